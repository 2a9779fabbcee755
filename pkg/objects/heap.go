package objects

import (
	"cyclegc/pkg/gc"
	"cyclegc/pkg/memory"
	"cyclegc/pkg/object"
)

// Runtime value types
//
// The collector only needs the behavior interfaces from pkg/object. The types
// here are the concrete values a running program creates: atoms that plain
// reference counting handles on its own, containers that must be tracked,
// user class instances with finalizers, weak references and functions.
//
// Constructors return values holding one reference owned by the caller.
// Containers take new references to the values stored in them.

const (
	maxCachedTupleLen  = 8
	maxCachedPerLength = 200
)

// Heap creates runtime values accounted against one collector
type Heap struct {
	gc     *gc.State
	tuples [maxCachedTupleLen + 1]*memory.FreeList[*Tuple]
}

// NewHeap creates a heap and registers its caches with s
func NewHeap(s *gc.State) *Heap {
	h := &Heap{gc: s}
	for i := 1; i <= maxCachedTupleLen; i++ {
		h.tuples[i] = memory.NewFreeList[*Tuple](maxCachedPerLength)
	}
	s.RegisterFreeList("tuple", h)
	return h
}

// GC returns the collector the heap allocates from
func (h *Heap) GC() *gc.State {
	return h.gc
}

// ClearFreeList returns every cached tuple's memory to the allocator
func (h *Heap) ClearFreeList() int {
	n := 0
	alloc := h.gc.Allocator()
	for _, fl := range h.tuples {
		if fl == nil {
			continue
		}
		n += fl.Clear(func(t *Tuple) {
			alloc.Free(t.Head().Size())
		})
	}
	return n
}

// CachedTuples returns the number of tuples waiting for reuse
func (h *Heap) CachedTuples() int {
	n := 0
	for _, fl := range h.tuples {
		if fl != nil {
			n += fl.Len()
		}
	}
	return n
}

// mayBeTracked reports whether o is, or may later become, a tracked
// container. Tuples only count while tracked: an untracked tuple never
// gets tracked again.
func mayBeTracked(o object.Object) bool {
	if o == nil || !object.IsGC(o) {
		return false
	}
	h := o.Head()
	return h.Type() != TupleType || h.IsTracked()
}

func decRefAll(items []object.Object) {
	for i, it := range items {
		items[i] = nil
		object.XDecRef(it)
	}
}
