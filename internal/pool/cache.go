package pool

import (
	"sync"

	"undex/internal/dex"
)

// table memoizes one kind of pool entry. Readers take the read lock; a miss
// is resolved outside any lock and stored under the write lock, where the
// first stored value wins.
type table[T any] struct {
	mu sync.RWMutex
	m  map[uint32]T
}

func (t *table[T]) get(i uint32) (T, bool) {
	t.mu.RLock()
	v, ok := t.m[i]
	t.mu.RUnlock()
	return v, ok
}

func (t *table[T]) put(i uint32, v T) T {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.m[i]; ok {
		return old
	}
	if t.m == nil {
		t.m = make(map[uint32]T)
	}
	t.m[i] = v
	return v
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

func (t *table[T]) reset() {
	t.mu.Lock()
	t.m = nil
	t.mu.Unlock()
}

// identity names the bytes a container was parsed from: the first byte of
// its buffer and the buffer length. Header fields are not used since any
// file can claim any signature.
type identity struct {
	base *byte
	size int
}

func identityOf(c *dex.Container) identity {
	buf := c.Bytes()
	if len(buf) == 0 {
		return identity{}
	}
	return identity{base: &buf[0], size: len(buf)}
}

// Cache holds resolved pool entries for one container buffer. It lives only
// in memory; callers create one and pass it to New or to a session to share
// resolutions across resolvers over the same bytes.
type Cache struct {
	mu    sync.Mutex
	bound bool
	id    identity

	strings   table[string]
	types     table[string]
	protos    table[Proto]
	fields    table[FieldRef]
	methods   table[MethodRef]
	handles   table[MethodHandle]
	callSites table[CallSite]
}

// NewCache returns an empty, unbound cache.
func NewCache() *Cache { return &Cache{} }

// bind attaches the cache to c. Binding to a container parsed from a
// different buffer drops everything resolved so far.
func (k *Cache) bind(c *dex.Container) {
	id := identityOf(c)
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.bound && k.id == id {
		return
	}
	k.strings.reset()
	k.types.reset()
	k.protos.reset()
	k.fields.reset()
	k.methods.reset()
	k.handles.reset()
	k.callSites.reset()
	k.id = id
	k.bound = true
}

// Stats reports how many entries of each table are resolved.
type Stats struct {
	Strings, Types, Protos, Fields, Methods int
}

// Stats returns current table occupancy.
func (k *Cache) Stats() Stats {
	return Stats{
		Strings: k.strings.len(),
		Types:   k.types.len(),
		Protos:  k.protos.len(),
		Fields:  k.fields.len(),
		Methods: k.methods.len(),
	}
}
