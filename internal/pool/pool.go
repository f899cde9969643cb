// Package pool resolves DEX table indices into strings, types, prototypes
// and member references, memoizing each result.
//
// Each table is guarded by its own sync.RWMutex with a read-then-fill
// discipline, so one Resolver may be shared by concurrent decoders. Warm
// pre-populates every fixed table for callers that want no lock traffic on
// the miss path.
package pool

import (
	"fmt"
	"strings"

	"undex/internal/dex"
	"undex/internal/dexfmt"
)

// Proto is a resolved prototype.
type Proto struct {
	Shorty string
	Return string
	Params []string
}

// Descriptor renders the method descriptor, e.g. "(ILjava/lang/String;)V".
func (p Proto) Descriptor() string {
	return "(" + strings.Join(p.Params, "") + ")" + p.Return
}

// ParamWords counts the registers occupied by the parameters.
func (p Proto) ParamWords() int {
	n := 0
	for _, d := range p.Params {
		n++
		if dex.IsWide(d) {
			n++
		}
	}
	return n
}

// FieldRef is a resolved field_id.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

func (f FieldRef) String() string { return f.Class + "->" + f.Name + ":" + f.Type }

// MethodRef is a resolved method_id.
type MethodRef struct {
	Class string
	Name  string
	Proto Proto
}

func (m MethodRef) String() string { return m.Class + "->" + m.Name + m.Proto.Descriptor() }

// MethodHandle is a resolved method_handle_item. Exactly one of Field and
// Method is set, according to Kind.
type MethodHandle struct {
	Kind   dex.MethodHandleKind
	Field  *FieldRef
	Method *MethodRef
}

func (h MethodHandle) String() string {
	if h.Field != nil {
		return h.Kind.String() + "@" + h.Field.String()
	}
	if h.Method != nil {
		return h.Kind.String() + "@" + h.Method.String()
	}
	return h.Kind.String()
}

// CallSite is a resolved call_site_item.
type CallSite struct {
	Index     uint32
	Bootstrap MethodHandle
	Name      string
	Type      Proto
	Extra     []dex.Value
}

// Resolver resolves indices of one container.
type Resolver struct {
	c     *dex.Container
	cache *Cache
}

// New returns a resolver over c. A nil cache gets a private one; a shared
// cache previously bound to another container is reset. A cache serves one
// container at a time.
func New(c *dex.Container, cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	cache.bind(c)
	return &Resolver{c: c, cache: cache}
}

// Container returns the container being resolved.
func (r *Resolver) Container() *dex.Container { return r.c }

// Cache returns the memo table in use.
func (r *Resolver) Cache() *Cache { return r.cache }

func oor(table string, idx uint32, n int) error {
	return dexfmt.OutOfRange(table, idx, uint32(n))
}

// String resolves a string index.
func (r *Resolver) String(idx uint32) (string, error) {
	if idx >= uint32(len(r.c.StringIDs)) {
		return "", oor("string", idx, len(r.c.StringIDs))
	}
	if v, ok := r.cache.strings.get(idx); ok {
		return v, nil
	}
	s, err := r.c.String(idx)
	if err != nil {
		return "", err
	}
	return r.cache.strings.put(idx, s), nil
}

// Type resolves a type index to its descriptor.
func (r *Resolver) Type(idx uint32) (string, error) {
	if idx >= uint32(len(r.c.TypeIDs)) {
		return "", oor("type", idx, len(r.c.TypeIDs))
	}
	if v, ok := r.cache.types.get(idx); ok {
		return v, nil
	}
	s, err := r.String(r.c.TypeIDs[idx])
	if err != nil {
		return "", fmt.Errorf("type %d: %w", idx, err)
	}
	return r.cache.types.put(idx, s), nil
}

// TypeList resolves the type_list at off. Type lists are keyed by offset
// and are not memoized.
func (r *Resolver) TypeList(off uint32) ([]string, error) {
	idx, err := r.c.TypeList(off)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(idx))
	for i, t := range idx {
		if out[i], err = r.Type(uint32(t)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Proto resolves a proto index.
func (r *Resolver) Proto(idx uint32) (Proto, error) {
	if idx >= uint32(len(r.c.ProtoIDs)) {
		return Proto{}, oor("proto", idx, len(r.c.ProtoIDs))
	}
	if v, ok := r.cache.protos.get(idx); ok {
		return v, nil
	}
	id := r.c.ProtoIDs[idx]
	shorty, err := r.String(id.ShortyIdx)
	if err != nil {
		return Proto{}, fmt.Errorf("proto %d: %w", idx, err)
	}
	ret, err := r.Type(id.ReturnTypeIdx)
	if err != nil {
		return Proto{}, fmt.Errorf("proto %d: %w", idx, err)
	}
	params, err := r.TypeList(id.ParametersOff)
	if err != nil {
		return Proto{}, fmt.Errorf("proto %d: parameters: %w", idx, err)
	}
	return r.cache.protos.put(idx, Proto{Shorty: shorty, Return: ret, Params: params}), nil
}

// Field resolves a field index.
func (r *Resolver) Field(idx uint32) (FieldRef, error) {
	if idx >= uint32(len(r.c.FieldIDs)) {
		return FieldRef{}, oor("field", idx, len(r.c.FieldIDs))
	}
	if v, ok := r.cache.fields.get(idx); ok {
		return v, nil
	}
	id := r.c.FieldIDs[idx]
	class, err := r.Type(uint32(id.ClassIdx))
	if err != nil {
		return FieldRef{}, fmt.Errorf("field %d: %w", idx, err)
	}
	typ, err := r.Type(uint32(id.TypeIdx))
	if err != nil {
		return FieldRef{}, fmt.Errorf("field %d: %w", idx, err)
	}
	name, err := r.String(id.NameIdx)
	if err != nil {
		return FieldRef{}, fmt.Errorf("field %d: %w", idx, err)
	}
	return r.cache.fields.put(idx, FieldRef{Class: class, Name: name, Type: typ}), nil
}

// Method resolves a method index.
func (r *Resolver) Method(idx uint32) (MethodRef, error) {
	if idx >= uint32(len(r.c.MethodIDs)) {
		return MethodRef{}, oor("method", idx, len(r.c.MethodIDs))
	}
	if v, ok := r.cache.methods.get(idx); ok {
		return v, nil
	}
	id := r.c.MethodIDs[idx]
	class, err := r.Type(uint32(id.ClassIdx))
	if err != nil {
		return MethodRef{}, fmt.Errorf("method %d: %w", idx, err)
	}
	proto, err := r.Proto(uint32(id.ProtoIdx))
	if err != nil {
		return MethodRef{}, fmt.Errorf("method %d: %w", idx, err)
	}
	name, err := r.String(id.NameIdx)
	if err != nil {
		return MethodRef{}, fmt.Errorf("method %d: %w", idx, err)
	}
	return r.cache.methods.put(idx, MethodRef{Class: class, Name: name, Proto: proto}), nil
}

// MethodHandle resolves a method handle index.
func (r *Resolver) MethodHandle(idx uint32) (MethodHandle, error) {
	if idx >= uint32(len(r.c.MethodHandles)) {
		return MethodHandle{}, oor("method_handle", idx, len(r.c.MethodHandles))
	}
	if v, ok := r.cache.handles.get(idx); ok {
		return v, nil
	}
	mh := r.c.MethodHandles[idx]
	h := MethodHandle{Kind: mh.Kind}
	if mh.Kind.IsField() {
		f, err := r.Field(uint32(mh.TargetID))
		if err != nil {
			return MethodHandle{}, fmt.Errorf("method_handle %d: %w", idx, err)
		}
		h.Field = &f
	} else {
		m, err := r.Method(uint32(mh.TargetID))
		if err != nil {
			return MethodHandle{}, fmt.Errorf("method_handle %d: %w", idx, err)
		}
		h.Method = &m
	}
	return r.cache.handles.put(idx, h), nil
}

// CallSite resolves a call site index. Its encoded array must start with
// the bootstrap method handle, the method name and the method type.
func (r *Resolver) CallSite(idx uint32) (CallSite, error) {
	if idx >= uint32(len(r.c.CallSiteIDs)) {
		return CallSite{}, oor("call_site", idx, len(r.c.CallSiteIDs))
	}
	if v, ok := r.cache.callSites.get(idx); ok {
		return v, nil
	}
	vals, err := r.c.EncodedArray(r.c.CallSiteIDs[idx])
	if err != nil {
		return CallSite{}, fmt.Errorf("call_site %d: %w", idx, err)
	}
	if len(vals) < 3 ||
		vals[0].Type != dex.ValueMethodHandle ||
		vals[1].Type != dex.ValueString ||
		vals[2].Type != dex.ValueMethodType {
		return CallSite{}, dexfmt.Errorf(dexfmt.KindFormat, int64(r.c.CallSiteIDs[idx]),
			"call_site %d: array does not start with handle, name, type", idx)
	}
	cs := CallSite{Index: idx, Extra: vals[3:]}
	if cs.Bootstrap, err = r.MethodHandle(vals[0].Index()); err != nil {
		return CallSite{}, fmt.Errorf("call_site %d: %w", idx, err)
	}
	if cs.Name, err = r.String(vals[1].Index()); err != nil {
		return CallSite{}, fmt.Errorf("call_site %d: %w", idx, err)
	}
	if cs.Type, err = r.Proto(vals[2].Index()); err != nil {
		return CallSite{}, fmt.Errorf("call_site %d: %w", idx, err)
	}
	return r.cache.callSites.put(idx, cs), nil
}

// Warm resolves every entry of the fixed tables. It keeps going past
// failures and returns the first one.
func (r *Resolver) Warm() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for i := range r.c.StringIDs {
		_, err := r.String(uint32(i))
		keep(err)
	}
	for i := range r.c.TypeIDs {
		_, err := r.Type(uint32(i))
		keep(err)
	}
	for i := range r.c.ProtoIDs {
		_, err := r.Proto(uint32(i))
		keep(err)
	}
	for i := range r.c.FieldIDs {
		_, err := r.Field(uint32(i))
		keep(err)
	}
	for i := range r.c.MethodIDs {
		_, err := r.Method(uint32(i))
		keep(err)
	}
	for i := range r.c.MethodHandles {
		_, err := r.MethodHandle(uint32(i))
		keep(err)
	}
	return first
}
