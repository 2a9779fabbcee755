package gc

import (
	"fmt"
	"strings"
	"time"

	"cyclegc/pkg/fatal"
	"cyclegc/pkg/object"
)

// Collection pass
//
// gc_refs of an object in the list being collected goes through
//
//	REACHABLE -> refcount -> refcount minus internal references ->
//	REACHABLE | TENTATIVELY_UNREACHABLE
//
// After subtraction a positive count means the object is referenced from
// outside the collected set. Everything reachable from such an object is
// alive; the rest is garbage unless a legacy finalizer can still see it.

// updateRefs copies every true refcount into gc_refs
func updateRefs(containers *object.List) {
	for h := containers.Front(); h != nil; h = containers.Next(h) {
		if h.GCRefs() != object.RefsReachable {
			fatal.Errorf("object %s has gc_refs %d at start of collection",
				object.Repr(h.Object()), h.GCRefs())
		}
		// A zero refcount means something forgot to deallocate (or untrack)
		// a dead object and the collector would free it a second time.
		if h.RefCount() == 0 {
			fatal.Errorf("tracked object %s has refcount 0", object.Repr(h.Object()))
		}
		h.SetGCRefs(h.RefCount())
	}
}

// visitDecref only touches objects of the collected set: they are the only
// ones with a non-negative gc_refs.
func visitDecref(o object.Object) int {
	if !object.IsGC(o) {
		return 0
	}
	h := o.Head()
	switch r := h.GCRefs(); {
	case r == 0:
		fatal.Errorf("refcount of %s too small for its references", object.Repr(o))
	case r > 0:
		h.DecGCRefs()
	}
	return 0
}

// subtractRefs removes references internal to containers from gc_refs
func subtractRefs(containers *object.List) {
	for h := containers.Front(); h != nil; h = containers.Next(h) {
		object.Traverse(h.Object(), visitDecref)
	}
}

// moveUnreachable moves every object of young that is not reachable from
// outside young into unreachable, marked TENTATIVELY_UNREACHABLE. What stays
// in young is REACHABLE.
func (s *State) moveUnreachable(young, unreachable *object.List) {
	visitReachable := func(o object.Object) int {
		if !object.IsGC(o) {
			return 0
		}
		h := o.Head()
		switch h.GCRefs() {
		case 0:
			// not scanned yet; tell the loop below it is reachable
			h.SetGCRefs(1)
		case object.RefsTentativelyUnreachable:
			// scanned too early: move it back so the loop sees it again
			young.Move(h)
			h.SetGCRefs(1)
		}
		return 0
	}

	var next *object.Header
	for h := young.Front(); h != nil; h = next {
		if h.GCRefs() > 0 {
			o := h.Object()
			h.SetGCRefs(object.RefsReachable)
			// traversal may append to young, so next is taken afterwards
			object.Traverse(o, visitReachable)
			next = young.Next(h)
			if h.Type().Untrack == object.UntrackDuringScan {
				s.maybeUntrack(o)
			}
		} else {
			next = young.Next(h)
			unreachable.Move(h)
			h.SetGCRefs(object.RefsTentativelyUnreachable)
		}
	}
}

func (s *State) maybeUntrack(o object.Object) {
	if mu, ok := o.(object.MaybeUntracker); ok && mu.MaybeUntrack() {
		s.Untrack(o)
	}
}

// untrackDicts drops containers that can only hold atomic values.
// Only run on full collections to bound its cost.
func (s *State) untrackDicts(l *object.List) {
	var next *object.Header
	for h := l.Front(); h != nil; h = next {
		next = l.Next(h)
		if h.Type().Untrack == object.UntrackOnFullCollection {
			s.maybeUntrack(h.Object())
		}
	}
}

// moveLegacyFinalizers moves unreachable objects with a legacy finalizer into
// finalizers, marked REACHABLE again
func moveLegacyFinalizers(unreachable, finalizers *object.List) {
	var next *object.Header
	for h := unreachable.Front(); h != nil; h = next {
		next = unreachable.Next(h)
		if object.HasLegacyFinalizer(h.Object()) {
			finalizers.Move(h)
			h.SetGCRefs(object.RefsReachable)
		}
	}
}

// moveLegacyFinalizerReachable pulls everything a legacy finalizer can see
// into finalizers. The list grows while it is walked.
func moveLegacyFinalizerReachable(finalizers *object.List) {
	visitMove := func(o object.Object) int {
		if !object.IsGC(o) {
			return 0
		}
		if h := o.Head(); h.GCRefs() == object.RefsTentativelyUnreachable {
			finalizers.Move(h)
			h.SetGCRefs(object.RefsReachable)
		}
		return 0
	}
	for h := finalizers.Front(); h != nil; h = finalizers.Next(h) {
		object.Traverse(h.Object(), visitMove)
	}
}

// handleWeakrefs clears every weak reference to an unreachable object. A
// callback runs only when its weak reference is not garbage itself, and only
// after all clearing is done, so no callback can reach a dying object through
// a weak reference. Returns the number of weak references freed by running
// their callbacks.
func (s *State) handleWeakrefs(unreachable, old *object.List) int {
	var toCall []object.WeakReference

	var next *object.Header
	for h := unreachable.Front(); h != nil; h = next {
		next = unreachable.Next(h)
		if !h.Type().WeakRefs {
			continue
		}
		for _, wr := range h.DetachWeakRefs() {
			wr.ClearRef()
			if wr.Callback() == nil {
				continue
			}
			// Dying together with its referent: pretend the weak
			// reference went first.
			if wr.Head().GCRefs() == object.RefsTentativelyUnreachable {
				continue
			}
			object.IncRef(wr)
			toCall = append(toCall, wr)
		}
	}

	freed := 0
	for _, wr := range toCall {
		s.callWeakrefCallback(wr)
		object.DecRef(wr)
		h := wr.Head()
		if h.RefCount() == 0 {
			freed++
			continue
		}
		if h.IsTracked() && !s.frozen(h) {
			old.Move(h)
			h.SetGCRefs(object.RefsReachable)
		}
	}
	return freed
}

func (s *State) callWeakrefCallback(wr object.WeakReference) {
	cb := wr.Callback()
	if cb == nil {
		return
	}
	fn, ok := cb.(object.Callable)
	if !ok {
		s.unraisable(object.Repr(cb), fmt.Errorf("'%s' object is not callable", object.TypeName(cb)))
		return
	}
	s.unraisable(object.Repr(cb), fn.Call(wr))
}

// finalizeGarbage runs one-shot finalizers. A finalizer may free or
// resurrect anything, so the loop always takes the head of collectable.
func (s *State) finalizeGarbage(collectable *object.List) {
	var seen object.List
	for !collectable.Empty() {
		h := collectable.Front()
		o := h.Object()
		seen.Move(h)
		if h.Finalized() || !object.HasFinalizer(o) {
			continue
		}
		h.SetFinalized()
		object.IncRef(o)
		s.unraisable(object.Repr(o), o.(object.Finalizer).Finalize())
		object.DecRef(o)
	}
	collectable.Merge(&seen)
}

// checkGarbage reports whether collectable is still unreachable from
// outside. Finalizers may have resurrected part of it.
func checkGarbage(collectable *object.List) bool {
	for h := collectable.Front(); h != nil; h = collectable.Next(h) {
		if h.RefCount() == 0 {
			fatal.Errorf("garbage object %s has refcount 0", object.Repr(h.Object()))
		}
		h.SetGCRefs(h.RefCount())
	}
	// visitDecref stops at zero, so gc_refs cannot go negative here
	subtractRefs(collectable)
	for h := collectable.Front(); h != nil; h = collectable.Next(h) {
		if h.GCRefs() != 0 {
			return false
		}
	}
	return true
}

func reviveGarbage(collectable *object.List) {
	for h := collectable.Front(); h != nil; h = collectable.Next(h) {
		h.SetGCRefs(object.RefsReachable)
	}
}

// deleteGarbage breaks cycles by clearing their members. Anything that
// survives its clear is moved to old.
func (s *State) deleteGarbage(collectable, old *object.List) {
	for !collectable.Empty() {
		h := collectable.Front()
		o := h.Object()
		if s.debug&DebugSaveAll != 0 {
			s.garbage = append(s.garbage, object.NewRef(o))
		} else if c, ok := o.(object.Clearer); ok {
			object.IncRef(o)
			s.unraisable(object.Repr(o), c.Clear())
			object.DecRef(o)
		}
		if collectable.Front() == h {
			old.Move(h)
			h.SetGCRefs(object.RefsReachable)
		}
	}
}

// handleLegacyFinalizers parks uncollectable objects in the garbage list:
// all of them with DebugSaveAll, otherwise only those with a legacy
// finalizer. Every one of them is merged into old.
func (s *State) handleLegacyFinalizers(finalizers, old *object.List) {
	for h := finalizers.Front(); h != nil; h = finalizers.Next(h) {
		o := h.Object()
		if s.debug&DebugSaveAll != 0 || object.HasLegacyFinalizer(o) {
			s.garbage = append(s.garbage, object.NewRef(o))
		}
	}
	old.Merge(finalizers)
}

func (s *State) clearFreeLists() {
	for _, e := range s.freeLists {
		n := e.fl.ClearFreeList()
		if s.debug&DebugStats != 0 && n > 0 {
			s.logger.Printf("gc: released %d cached %s objects", n, e.name)
		}
	}
}

func (s *State) debugCycle(msg string, o object.Object) {
	s.logger.Printf("gc: %s <%s %p>", msg, object.TypeName(o), o.Head())
}

// collect runs one pass over generation gen and every younger generation
func (s *State) collect(gen int) (collected, uncollectable int) {
	var start time.Time
	if s.debug&DebugStats != 0 {
		s.logger.Printf("gc: collecting generation %d...", gen)
		sizes := make([]string, NumGenerations)
		for i := range s.gens {
			sizes[i] = fmt.Sprint(s.gens[i].list.Len())
		}
		s.logger.Printf("gc: objects in each generation: %s", strings.Join(sizes, " "))
		s.logger.Printf("gc: objects in permanent generation: %d", s.FreezeCount())
		start = time.Now()
	}

	if gen+1 < NumGenerations {
		s.gens[gen+1].count++
	}
	for i := 0; i <= gen; i++ {
		s.gens[i].count = 0
	}

	for i := 0; i < gen; i++ {
		s.gens[gen].list.Merge(&s.gens[i].list)
	}
	young := &s.gens[gen].list
	old := young
	if gen < NumGenerations-1 {
		old = &s.gens[gen+1].list
	}

	updateRefs(young)
	subtractRefs(young)

	var unreachable object.List
	s.moveUnreachable(young, &unreachable)

	if young != old {
		if gen == NumGenerations-2 {
			s.longLivedPending += young.Len()
		}
		old.Merge(young)
	} else {
		s.untrackDicts(young)
		s.longLivedPending = 0
		s.longLivedTotal = young.Len()
	}

	var finalizers object.List
	moveLegacyFinalizers(&unreachable, &finalizers)
	moveLegacyFinalizerReachable(&finalizers)

	if s.debug&DebugCollectable != 0 {
		for h := unreachable.Front(); h != nil; h = unreachable.Next(h) {
			s.debugCycle("collectable", h.Object())
		}
	}

	m := s.handleWeakrefs(&unreachable, old)

	s.finalizeGarbage(&unreachable)

	if !checkGarbage(&unreachable) {
		reviveGarbage(&unreachable)
		old.Merge(&unreachable)
	} else {
		m += unreachable.Len()
		s.deleteGarbage(&unreachable, old)
	}

	n := 0
	for h := finalizers.Front(); h != nil; h = finalizers.Next(h) {
		n++
		if s.debug&DebugUncollectable != 0 {
			s.debugCycle("uncollectable", h.Object())
		}
	}
	if s.debug&DebugStats != 0 {
		elapsed := time.Since(start).Seconds()
		if m == 0 && n == 0 {
			s.logger.Printf("gc: done, %.4fs elapsed", elapsed)
		} else {
			s.logger.Printf("gc: done, %d unreachable, %d uncollectable, %.4fs elapsed",
				n+m, n, elapsed)
		}
	}

	s.handleLegacyFinalizers(&finalizers, old)

	if gen == NumGenerations-1 {
		s.clearFreeLists()
	}

	st := &s.stats[gen]
	st.Collections++
	st.Collected += m
	st.Uncollectable += n
	return m, n
}

// collectWithCallback wraps a pass with the start/stop progress callbacks.
// Errors raised anywhere in between are escalated once the pass is over.
func (s *State) collectWithCallback(gen int) int {
	s.beginPass()
	s.invokeCallbacks(PhaseStart, Info{Generation: gen})
	collected, uncollectable := s.collect(gen)
	s.invokeCallbacks(PhaseStop, Info{
		Generation:    gen,
		Collected:     collected,
		Uncollectable: uncollectable,
	})
	s.endPass(false)
	return collected + uncollectable
}
