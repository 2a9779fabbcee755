package gc

import (
	"cyclegc/pkg/memory"
	"cyclegc/pkg/object"
)

// Deallocation
//
// An object whose refcount drops to zero is untracked on the spot and pushed
// on the pending stack. The outermost Dealloc drains the stack; destroying
// one object can only push more work, never recurse, so arbitrarily long
// chains are torn down in constant stack depth.

// headerSize is the per-object overhead accounted against the allocator:
// refcount and type for every object, plus links and gc_refs when tracked.
func headerSize(typ *object.Type) int {
	if typ.GC {
		return 5 * memory.WordSize
	}
	return 2 * memory.WordSize
}

// Alloc accounts a new instance of typ and initializes o's header, owned by
// s. extra is the variable part of the payload in bytes. Allocating a
// cycle-eligible object counts towards generation 0 and may run a
// collection before the header is initialized. The object comes back
// untracked; containers call Track once their fields are set.
//
// On exhaustion the error wraps memory.ErrNoMemory.
func (s *State) Alloc(o object.Object, typ *object.Type, extra int) error {
	size := memory.Align(headerSize(typ) + typ.Size + extra)
	if err := s.alloc.Malloc(size); err != nil {
		return err
	}
	if typ.GC {
		s.gens[0].count++
		s.maybeCollect()
	}
	object.Init(o, typ, s, size)
	return nil
}

// Reuse revives o from a free list. Its memory is still accounted from the
// original allocation, so only the counters and the header are reset.
func (s *State) Reuse(o object.Object, typ *object.Type) {
	size := o.Head().Size()
	if typ.GC {
		s.gens[0].count++
		s.maybeCollect()
	}
	object.Init(o, typ, s, size)
}

// Dealloc implements object.Deallocator
func (s *State) Dealloc(o object.Object) {
	h := o.Head()
	tracked := h.IsTracked()
	s.Untrack(o)
	s.pending = append(s.pending, pendingDealloc{obj: o, tracked: tracked})
	if s.draining {
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		last := len(s.pending) - 1
		p := s.pending[last]
		s.pending[last] = pendingDealloc{}
		s.pending = s.pending[:last]
		s.destroy(p.obj, p.tracked)
	}
	s.draining = false
}

// PendingDeallocs returns how many dead objects wait for destruction
func (s *State) PendingDeallocs() int {
	return len(s.pending)
}

// runHook calls fn while o holds a temporary reference. It reports whether
// o was resurrected, in which case destruction stops.
func (s *State) runHook(o object.Object, tracked bool, fn func() error) bool {
	h := o.Head()
	h.SetRefCount(1)
	s.unraisable(object.Repr(o), fn())
	h.SetRefCount(h.RefCount() - 1)
	if h.RefCount() == 0 {
		return false
	}
	if tracked && !h.IsTracked() {
		s.Track(o)
	}
	return true
}

func (s *State) destroy(o object.Object, tracked bool) {
	h := o.Head()

	if object.HasFinalizer(o) && !h.Finalized() {
		h.SetFinalized()
		if s.runHook(o, tracked, o.(object.Finalizer).Finalize) {
			return
		}
	}
	if object.HasLegacyFinalizer(o) {
		if s.runHook(o, tracked, o.(object.LegacyFinalizer).Del) {
			return
		}
	}

	if h.Type().WeakRefs {
		wrs := h.DetachWeakRefs()
		for _, wr := range wrs {
			wr.ClearRef()
		}
		for _, wr := range wrs {
			if wr.Callback() == nil {
				continue
			}
			object.IncRef(wr)
			s.callWeakrefCallback(wr)
			object.DecRef(wr)
		}
	}

	switch t := o.(type) {
	case object.Destructor:
		t.Destroy()
	case object.Clearer:
		s.unraisable(object.Repr(o), t.Clear())
	}

	if h.Type().GC && s.gens[0].count > 0 {
		s.gens[0].count--
	}
	size := h.Size()
	h.MarkFreed()
	if r, ok := o.(object.Recycler); ok && r.Recycle() {
		return
	}
	s.alloc.Free(size)
}
