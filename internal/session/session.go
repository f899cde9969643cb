// Package session drives a DEX file from bytes to rendered classes.
//
// A Session parses the container once and then renders classes on demand.
// It is the only place that decides whether a failing unit aborts the walk:
// in ModeStrict the first error-severity diagnostic stops iteration and is
// returned as an *AbortError; in ModeTolerant every class is produced and
// carries its own diagnostics.
package session

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"undex/internal/dex"
	"undex/internal/dexfmt"
	"undex/internal/disasm"
	"undex/internal/pool"
	"undex/internal/smali"
)

// Options configures a session.
type Options struct {
	Mode   dexfmt.Mode
	Cache  *pool.Cache // nil gets a private cache
	Render smali.Options
	Jobs   int // RenderParallel workers; <= 0 uses GOMAXPROCS
}

// Session is one opened container.
type Session struct {
	c    *dex.Container
	pool *pool.Resolver
	r    *smali.Renderer
	opts Options
}

// Open parses data. Header and index failures are fatal and return no
// session.
func Open(data []byte, opts Options) (*Session, error) {
	c, err := dex.Parse(data)
	if err != nil {
		return nil, err
	}
	p := pool.New(c, opts.Cache)
	s := &Session{c: c, pool: p, r: smali.New(p, opts.Render), opts: opts}
	Logger().Info("opened dex",
		zap.Int("version", c.Version()),
		zap.Int("classes", len(c.ClassDefs)),
		zap.Stringer("mode", opts.Mode))
	return s, nil
}

func (s *Session) Container() *dex.Container { return s.c }
func (s *Session) Resolver() *pool.Resolver  { return s.pool }
func (s *Session) Mode() dexfmt.Mode         { return s.opts.Mode }
func (s *Session) NumClasses() int           { return len(s.c.ClassDefs) }

// AbortError is returned when strict mode stops at a failing unit.
type AbortError struct {
	Index int    // class_def index
	Class string // class descriptor
	Diag  dexfmt.Diag
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("strict: class %d %s: %s", e.Index, e.Class, e.Diag)
}

func (e *AbortError) Unwrap() error { return e.Diag.Err() }

// RenderClass renders class_def i. It never applies the strict policy;
// callers get the text and diagnostics as they are.
func (s *Session) RenderClass(i int) (*smali.Class, error) {
	if i < 0 || i >= len(s.c.ClassDefs) {
		return nil, dexfmt.OutOfRange("class_def", uint32(i), uint32(len(s.c.ClassDefs)))
	}
	return s.render(i), nil
}

func (s *Session) render(i int) *smali.Class {
	cls := s.r.RenderClass(s.c.ClassDefs[i])
	log := Logger()
	if cls.Degraded() {
		first := dexfmt.FirstError(cls.Diags)
		log.Warn("class degraded",
			zap.String("class", cls.Descriptor),
			zap.Int("diags", len(cls.Diags)),
			zap.Stringer("first", first))
	} else if ce := log.Check(zap.DebugLevel, "class rendered"); ce != nil {
		ce.Write(zap.String("class", cls.Descriptor), zap.Int("insts", cls.Insts))
	}
	return cls
}

// check applies the failure policy to a rendered class.
func (s *Session) check(i int, cls *smali.Class) error {
	if s.opts.Mode != dexfmt.ModeStrict {
		return nil
	}
	if d := dexfmt.FirstError(cls.Diags); d != nil {
		return &AbortError{Index: i, Class: cls.Descriptor, Diag: *d}
	}
	return nil
}

// Iter is a pull iterator over the classes in class_def order.
//
//	it := s.Iter()
//	for it.Next() {
//		use(it.Index(), it.Class())
//	}
//	if err := it.Err(); err != nil { ... }
type Iter struct {
	s   *Session
	i   int
	cur *smali.Class
	err error
}

// Iter returns an iterator positioned before the first class.
func (s *Session) Iter() *Iter { return &Iter{s: s, i: -1} }

// Next renders the next class. It returns false at the end or when strict
// mode aborts; Err distinguishes the two.
func (it *Iter) Next() bool {
	if it.err != nil || it.i+1 >= len(it.s.c.ClassDefs) {
		it.cur = nil
		return false
	}
	it.i++
	cls := it.s.render(it.i)
	if err := it.s.check(it.i, cls); err != nil {
		it.err, it.cur = err, nil
		return false
	}
	it.cur = cls
	return true
}

func (it *Iter) Index() int          { return it.i }
func (it *Iter) Class() *smali.Class { return it.cur }
func (it *Iter) Err() error          { return it.err }

// Visit is called once per rendered class. Returning an error stops the walk.
type Visit func(i int, cls *smali.Class) error

// ForEachClass renders every class in order and hands it to visit.
func (s *Session) ForEachClass(visit Visit) error {
	it := s.Iter()
	for it.Next() {
		if err := visit(it.Index(), it.Class()); err != nil {
			return err
		}
	}
	return it.Err()
}

// RenderParallel renders classes on Options.Jobs workers and calls visit
// from the calling goroutine in class_def order, so the policy sees the same
// sequence as ForEachClass. Work still in flight when the walk stops is
// discarded.
func (s *Session) RenderParallel(ctx context.Context, visit Visit) error {
	n := len(s.c.ClassDefs)
	jobs := s.opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	if err := s.pool.Warm(); err != nil {
		Logger().Debug("pool warm-up incomplete", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs + 1) // workers plus the feeder

	slots := make([]chan *smali.Class, n)
	for i := range slots {
		slots[i] = make(chan *smali.Class, 1)
	}
	g.Go(func() error {
		for i := range n {
			if gctx.Err() != nil {
				return nil
			}
			g.Go(func() error {
				slots[i] <- s.render(i)
				return nil
			})
		}
		return nil
	})

	var err error
walk:
	for i := range n {
		var cls *smali.Class
		select {
		case cls = <-slots[i]:
		case <-ctx.Done():
			err = ctx.Err()
			break walk
		}
		if err = s.check(i, cls); err != nil {
			break
		}
		if err = visit(i, cls); err != nil {
			break
		}
	}
	cancel()
	_ = g.Wait()
	return err
}

// Method is one encoded method of a class.
type Method struct {
	Ref     pool.MethodRef
	Encoded dex.EncodedMethod
	Virtual bool
}

// ClassMethods lists the direct then virtual methods of class_def i.
func (s *Session) ClassMethods(i int) ([]Method, error) {
	if i < 0 || i >= len(s.c.ClassDefs) {
		return nil, dexfmt.OutOfRange("class_def", uint32(i), uint32(len(s.c.ClassDefs)))
	}
	data, err := s.c.ClassData(s.c.ClassDefs[i])
	if err != nil {
		return nil, err
	}
	out := make([]Method, 0, len(data.DirectMethods)+len(data.VirtualMethods))
	add := func(ms []dex.EncodedMethod, virtual bool) error {
		for _, m := range ms {
			ref, err := s.pool.Method(m.MethodIdx)
			if err != nil {
				return err
			}
			out = append(out, Method{Ref: ref, Encoded: m, Virtual: virtual})
		}
		return nil
	}
	if err := add(data.DirectMethods, false); err != nil {
		return nil, err
	}
	if err := add(data.VirtualMethods, true); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeMethod decodes m's code item. Methods without code return a nil
// result. In strict mode a degraded decode is also returned as an error,
// together with the partial result.
func (s *Session) DecodeMethod(m Method) (*disasm.Result, error) {
	if !m.Encoded.HasCode() {
		return nil, nil
	}
	code, err := s.c.CodeItem(m.Encoded.CodeOff)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Ref, err)
	}
	res := disasm.Decode(s.c, code)
	if s.opts.Mode == dexfmt.ModeStrict {
		if d := dexfmt.FirstError(res.Diags); d != nil {
			return res, fmt.Errorf("strict: %s: %w", m.Ref, d.Err())
		}
	}
	return res, nil
}
