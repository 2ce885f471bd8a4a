package containers

import (
	"fmt"
	"sync/atomic"
)

var arenaIDs atomic.Uint32

// Handle is a generation-tagged index into the Arena[T] that produced it.
// The zero Handle is never valid.
type Handle[T any] struct {
	arena      uint32
	index      uint32
	generation uint32
}

// IsZero reports whether h was never assigned.
func (h Handle[T]) IsZero() bool {
	return h.arena == 0
}

// Index is the slot position, only meaningful for debugging and logs.
func (h Handle[T]) Index() uint32 {
	return h.index
}

func (h Handle[T]) Generation() uint32 {
	return h.generation
}

func (h Handle[T]) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d:%dv%d)", h.arena, h.index, h.generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena owns values of one kind and hands out Handles to them. Freed slots
// are reused with a bumped generation so old handles stop resolving.
// An Arena is not safe for concurrent use.
type Arena[T any] struct {
	id    uint32
	slots []slot[T]
	free  []uint32
	count int
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{id: arenaIDs.Add(1)}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle[T] {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{generation: 1})
	}
	s := &a.slots[idx]
	s.value = v
	s.occupied = true
	a.count++
	return Handle[T]{arena: a.id, index: idx, generation: s.generation}
}

func (a *Arena[T]) lookup(h Handle[T]) *slot[T] {
	if h.arena != a.id || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return nil
	}
	return s
}

// Get returns a copy of the value behind h.
func (a *Arena[T]) Get(h Handle[T]) (T, bool) {
	if s := a.lookup(h); s != nil {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Ptr returns a pointer to the value behind h. The pointer is invalidated by
// the next Insert.
func (a *Arena[T]) Ptr(h Handle[T]) (*T, bool) {
	if s := a.lookup(h); s != nil {
		return &s.value, true
	}
	return nil, false
}

func (a *Arena[T]) Contains(h Handle[T]) bool {
	return a.lookup(h) != nil
}

// Remove frees the slot of h and returns its value.
func (a *Arena[T]) Remove(h Handle[T]) (T, bool) {
	var zero T
	s := a.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.occupied = false
	s.generation++
	a.free = append(a.free, h.index)
	a.count--
	return v, true
}

// Each calls fn for every live value in slot order. fn must not insert or remove.
func (a *Arena[T]) Each(fn func(Handle[T], T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.occupied {
			fn(Handle[T]{arena: a.id, index: uint32(i), generation: s.generation}, s.value)
		}
	}
}

// Drain removes every value, handing each to fn first. All handles issued
// before the call become stale.
func (a *Arena[T]) Drain(fn func(Handle[T], T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.occupied {
			continue
		}
		h := Handle[T]{arena: a.id, index: uint32(i), generation: s.generation}
		v := s.value
		var zero T
		s.value = zero
		s.occupied = false
		s.generation++
		a.free = append(a.free, uint32(i))
		a.count--
		if fn != nil {
			fn(h, v)
		}
	}
}

func (a *Arena[T]) Len() int {
	return a.count
}
