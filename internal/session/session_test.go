package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"undex/internal/dexfmt"
	"undex/internal/dextest"
	"undex/internal/pool"
	"undex/internal/smali"
)

// image builds n classes with one static method each. The method of class
// bad holds an unassigned opcode.
func image(n, bad int) []byte {
	b := dextest.New()
	for i := 0; i < n; i++ {
		insns := []uint16{0x1001, 0x000f}
		if i == bad {
			insns = []uint16{0x1001, 0x003e, 0x000f}
		}
		b.Class(fmt.Sprintf("Lcom/ex/C%d;", i), dextest.AccPublic, "Ljava/lang/Object;").
			DirectMethod("m", dextest.AccStatic, &dextest.Code{Registers: 2, Ins: 1, Insns: insns}, "I", "I")
	}
	return b.Build()
}

func open(t *testing.T, data []byte, mode dexfmt.Mode) *Session {
	t.Helper()
	s, err := Open(data, Options{Mode: mode, Jobs: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpen_Invalid(t *testing.T) {
	if _, err := Open([]byte("not a dex file at all"), Options{}); err == nil {
		t.Fatal("Open accepted garbage")
	}
}

func TestForEachClass_Tolerant(t *testing.T) {
	s := open(t, image(5, 2), dexfmt.ModeTolerant)
	var marked, degraded []int
	var seen int
	err := s.ForEachClass(func(i int, cls *smali.Class) error {
		seen++
		if strings.Contains(cls.Text, "# error:") {
			marked = append(marked, i)
		}
		if cls.Degraded() {
			degraded = append(degraded, i)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachClass: %v", err)
	}
	if seen != 5 {
		t.Errorf("visited %d classes, want 5", seen)
	}
	if !reflect.DeepEqual(marked, []int{2}) || !reflect.DeepEqual(degraded, []int{2}) {
		t.Errorf("marked %v, degraded %v, want [2]", marked, degraded)
	}
}

func TestForEachClass_Strict(t *testing.T) {
	s := open(t, image(5, 2), dexfmt.ModeStrict)
	var seen []int
	err := s.ForEachClass(func(i int, cls *smali.Class) error {
		seen = append(seen, i)
		return nil
	})
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("err = %v, want *AbortError", err)
	}
	if abort.Index != 2 || abort.Class != "Lcom/ex/C2;" {
		t.Errorf("abort at %d %s", abort.Index, abort.Class)
	}
	if !errors.Is(err, dexfmt.ErrUnknownOpcode) {
		t.Errorf("err %v does not match ErrUnknownOpcode", err)
	}
	if !reflect.DeepEqual(seen, []int{0, 1}) {
		t.Errorf("visited %v, want [0 1]", seen)
	}
}

func TestForEachClass_VisitError(t *testing.T) {
	s := open(t, image(3, -1), dexfmt.ModeTolerant)
	stop := errors.New("stop")
	var n int
	err := s.ForEachClass(func(i int, cls *smali.Class) error {
		n++
		return stop
	})
	if err != stop || n != 1 {
		t.Errorf("err = %v after %d visits", err, n)
	}
}

func TestIter(t *testing.T) {
	s := open(t, image(3, -1), dexfmt.ModeStrict)
	it := s.Iter()
	var got []string
	for it.Next() {
		got = append(got, it.Class().Descriptor)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	want := []string{"Lcom/ex/C0;", "Lcom/ex/C1;", "Lcom/ex/C2;"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("classes = %v, want %v", got, want)
	}
	if it.Next() {
		t.Error("Next after end returned true")
	}
}

func TestRenderParallel(t *testing.T) {
	for _, mode := range []dexfmt.Mode{dexfmt.ModeTolerant, dexfmt.ModeStrict} {
		t.Run(mode.String(), func(t *testing.T) {
			s := open(t, image(20, 7), mode)
			var seen []int
			err := s.RenderParallel(context.Background(), func(i int, cls *smali.Class) error {
				seen = append(seen, i)
				return nil
			})
			want := 20
			if mode == dexfmt.ModeStrict {
				want = 7
				var abort *AbortError
				if !errors.As(err, &abort) || abort.Index != 7 {
					t.Fatalf("err = %v, want abort at 7", err)
				}
			} else if err != nil {
				t.Fatalf("RenderParallel: %v", err)
			}
			if len(seen) != want {
				t.Fatalf("visited %d classes, want %d", len(seen), want)
			}
			for i, idx := range seen {
				if idx != i {
					t.Fatalf("visit %d got class %d", i, idx)
				}
			}
		})
	}
}

func TestRenderParallel_MatchesSequential(t *testing.T) {
	data := image(12, 4)
	seq := open(t, data, dexfmt.ModeTolerant)
	par := open(t, data, dexfmt.ModeTolerant)
	var want []string
	if err := seq.ForEachClass(func(i int, cls *smali.Class) error {
		want = append(want, cls.Text)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	var got []string
	if err := par.RenderParallel(context.Background(), func(i int, cls *smali.Class) error {
		got = append(got, cls.Text)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Error("parallel output differs from sequential")
	}
}

func TestRenderParallel_Canceled(t *testing.T) {
	s := open(t, image(4, -1), dexfmt.ModeTolerant)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.RenderParallel(ctx, func(int, *smali.Class) error { return nil })
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestRenderClass_OutOfRange(t *testing.T) {
	s := open(t, image(1, -1), dexfmt.ModeTolerant)
	if _, err := s.RenderClass(1); !errors.Is(err, dexfmt.ErrIndexOutOfRange) {
		t.Errorf("err = %v", err)
	}
	cls, err := s.RenderClass(0)
	if err != nil || cls.Descriptor != "Lcom/ex/C0;" {
		t.Errorf("RenderClass(0) = %v, %v", cls, err)
	}
}

func TestDecodeMethod(t *testing.T) {
	for _, mode := range []dexfmt.Mode{dexfmt.ModeTolerant, dexfmt.ModeStrict} {
		s := open(t, image(2, 1), mode)
		for i := 0; i < 2; i++ {
			ms, err := s.ClassMethods(i)
			if err != nil {
				t.Fatalf("ClassMethods(%d): %v", i, err)
			}
			if len(ms) != 1 || ms[0].Ref.Name != "m" || ms[0].Virtual {
				t.Fatalf("methods = %+v", ms)
			}
			res, err := s.DecodeMethod(ms[0])
			if res == nil {
				t.Fatalf("%s class %d: no result (%v)", mode, i, err)
			}
			if len(res.Insts) != 2 {
				t.Errorf("%s class %d: %d insts", mode, i, len(res.Insts))
			}
			wantErr := mode == dexfmt.ModeStrict && i == 1
			if (err != nil) != wantErr {
				t.Errorf("%s class %d: err = %v", mode, i, err)
			}
		}
	}
}

func TestSharedCache(t *testing.T) {
	cache := pool.NewCache()
	data := image(2, -1)
	a, err := Open(data, Options{Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < a.NumClasses(); j++ {
				if _, err := a.RenderClass(j); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	if a.Resolver().Cache() != cache {
		t.Error("session does not use the supplied cache")
	}
}
