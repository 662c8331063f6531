// Package handle maps guest-visible 32-bit handles to host-owned objects.
//
// A guest never sees a host pointer: it holds an opaque non-zero integer that
// the host resolves through a Table. Zero is reserved for "uninitialized".
package handle

import (
	"sync"

	"github.com/caffeineduck/gorux/errno"
)

// Table is a mutex-guarded map from handle to value. Each table owns its own
// id space; ids come from a monotonic counter and are not recycled while the
// table is alive.
type Table[T any] struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]T
	release func(T)
	closed  bool
}

// NewTable creates an empty table. release, if non-nil, is called with each
// value removed by Destroy or Close.
func NewTable[T any](release func(T)) *Table[T] {
	return &Table[T]{
		next:    1,
		entries: make(map[uint32]T),
		release: release,
	}
}

// Slot is a storage location holding a handle, usually a word in guest
// memory. Resolve reads and writes it while holding the table lock so two
// callers racing on the same zero slot observe a single creation.
type Slot interface {
	Load() uint32
	Store(h uint32)
}

type ptrSlot struct{ p *uint32 }

func (s ptrSlot) Load() uint32   { return *s.p }
func (s ptrSlot) Store(h uint32) { *s.p = h }

// Ptr adapts a host variable to a Slot.
func Ptr(p *uint32) Slot {
	return ptrSlot{p}
}

// GetOrCreate resolves *h. When *h is zero and create is non-nil, a new value
// is constructed, stored under a fresh handle, and the handle is written back
// through h. A zero handle without creation rights is EINVAL, as is an
// unknown non-zero handle.
func (t *Table[T]) GetOrCreate(h *uint32, create func() (T, error)) (T, error) {
	return t.Resolve(Ptr(h), create)
}

// Resolve is GetOrCreate for an arbitrary Slot.
func (t *Table[T]) Resolve(s Slot, create func() (T, error)) (T, error) {
	var zero T

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return zero, errno.EINVAL
	}

	if h := s.Load(); h != 0 {
		v, ok := t.entries[h]
		if !ok {
			return zero, errno.EINVAL
		}
		return v, nil
	}

	if create == nil {
		return zero, errno.EINVAL
	}

	v, err := create()
	if err != nil {
		return zero, err
	}

	id := t.allocLocked()
	t.entries[id] = v
	s.Store(id)
	return v, nil
}

// allocLocked returns the next free id, skipping zero and occupied slots.
// A collision needs 2^32 allocations, so the loop terminates quickly.
func (t *Table[T]) allocLocked() uint32 {
	for {
		id := t.next
		t.next++
		if id == 0 {
			continue
		}
		if _, used := t.entries[id]; used {
			continue
		}
		return id
	}
}

// Get returns the value stored under h.
func (t *Table[T]) Get(h uint32) (T, bool) {
	if h == 0 {
		var zero T
		return zero, false
	}

	t.mu.Lock()
	v, ok := t.entries[h]
	t.mu.Unlock()
	return v, ok
}

// Destroy releases and removes h. Destroying the zero handle is a no-op
// because nothing was ever created for it.
func (t *Table[T]) Destroy(h uint32) error {
	if h == 0 {
		return nil
	}

	t.mu.Lock()
	v, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	t.mu.Unlock()

	if !ok {
		return errno.EINVAL
	}
	if t.release != nil {
		t.release(v)
	}
	return nil
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close releases every live value. Later lookups fail with EINVAL.
func (t *Table[T]) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	entries := t.entries
	t.entries = make(map[uint32]T)
	t.mu.Unlock()

	if t.release == nil {
		return
	}
	for _, v := range entries {
		t.release(v)
	}
}
