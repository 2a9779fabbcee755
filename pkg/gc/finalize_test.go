package gc

import (
	"testing"

	"cyclegc/pkg/object"
)

func newFinNode(t *testing.T, s *State, name string, sink *[]object.Object) *finNode {
	t.Helper()
	n := &finNode{node: node{name: name}, sink: sink}
	mustAlloc(t, s, n, finType)
	s.Track(n)
	return n
}

func TestFinalizerResurrectionSurvives(t *testing.T) {
	s, _ := newState(t)
	var sink []object.Object
	f := newFinNode(t, s, "phoenix", &sink)
	link(&f.node, f)
	object.DecRef(f)

	n, _ := s.Collect(2)
	if n != 0 {
		t.Errorf("resurrected object must not be counted as collected, got %d", n)
	}
	if f.finalized != 1 {
		t.Fatalf("Expected finalizer to run once, got %d", f.finalized)
	}
	if f.Head().Freed() || len(f.refs) != 1 {
		t.Fatal("resurrected object must survive unchanged")
	}
	if !s.IsTracked(f) || f.Head().GCRefs() != object.RefsReachable {
		t.Error("resurrected object should be back in a generation as REACHABLE")
	}

	// Let it die again: the finalizer must not run a second time
	object.DecRef(sink[0])
	sink = nil
	n, _ = s.Collect(2)
	if n != 1 {
		t.Errorf("Expected 1 collected, got %d", n)
	}
	if f.finalized != 1 {
		t.Errorf("finalizer ran %d times", f.finalized)
	}
	if !f.Head().Freed() {
		t.Error("object should be freed")
	}
}

func TestFinalizerRunsBeforeClear(t *testing.T) {
	s, _ := newState(t)
	f := newFinNode(t, s, "f", nil)
	other := newNode(t, s, "other")
	link(&f.node, other)
	link(other, f)
	object.DecRef(f)
	object.DecRef(other)

	n, _ := s.Collect(2)
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
	if f.finalized != 1 {
		t.Errorf("Expected finalizer once, got %d", f.finalized)
	}
	if !f.Head().Freed() || !other.Head().Freed() {
		t.Error("cycle should be freed")
	}
}

func TestDeallocRunsFinalizerOnce(t *testing.T) {
	s, _ := newState(t)
	var sink []object.Object
	f := newFinNode(t, s, "f", &sink)

	object.DecRef(f)
	if f.finalized != 1 || f.Head().Freed() {
		t.Fatal("finalizer should run and resurrect")
	}
	if !s.IsTracked(f) {
		t.Error("resurrected object should be tracked again")
	}

	f.sink = nil
	object.DecRef(sink[0])
	if f.finalized != 1 {
		t.Errorf("finalizer ran %d times", f.finalized)
	}
	if !f.Head().Freed() {
		t.Error("object should be freed after its second death")
	}
}

func TestLegacyDelRunsOnDealloc(t *testing.T) {
	s, _ := newState(t)
	l := &legacyNode{node: node{name: "l"}}
	mustAlloc(t, s, l, legacyType)
	s.Track(l)

	object.DecRef(l)
	if l.dels != 1 || !l.Head().Freed() {
		t.Errorf("Expected Del once and freed, got dels=%d freed=%v", l.dels, l.Head().Freed())
	}
}

func TestWeakrefsClearedBeforeCallbacks(t *testing.T) {
	s, _ := newState(t)
	a, b := newNode(t, s, "a"), newNode(t, s, "b")
	link(a, b)
	link(b, a)

	var wa, wb *weakref
	calls := map[*weakref]int{}
	allCleared := true
	cb := newCallback(t, s, func(args ...object.Object) error {
		w := args[0].(*weakref)
		calls[w]++
		if wa.referent != nil || wb.referent != nil {
			allCleared = false
		}
		return nil
	})
	wa = newWeak(t, s, a, cb)
	wb = newWeak(t, s, b, cb)
	object.DecRef(cb)
	object.DecRef(a)
	object.DecRef(b)

	n, _ := s.Collect(2)
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
	if calls[wa] != 1 || calls[wb] != 1 {
		t.Errorf("Expected one call per weakref, got %d/%d", calls[wa], calls[wb])
	}
	if !allCleared {
		t.Error("a callback ran before every weak reference was cleared")
	}
	if wa.Head().RefCount() != 1 || !s.IsTracked(wa) {
		t.Error("surviving weakref should be back in a generation")
	}

	s.Collect(2)
	if calls[wa] != 1 || calls[wb] != 1 {
		t.Error("callbacks must run at most once per death")
	}
}

func TestWeakrefCallbackSkippedWhenWeakrefIsGarbage(t *testing.T) {
	s, _ := newState(t)
	a, b := newNode(t, s, "a"), newNode(t, s, "b")
	link(a, b)
	link(b, a)

	called := 0
	cb := newCallback(t, s, func(args ...object.Object) error {
		called++
		return nil
	})
	w := newWeak(t, s, a, cb)
	object.DecRef(cb)
	// only the dying cycle holds the weakref
	link(b, w)
	object.DecRef(w)
	object.DecRef(a)
	object.DecRef(b)

	n, _ := s.Collect(2)
	if n != 3 {
		t.Errorf("Expected 3, got %d", n)
	}
	if called != 0 {
		t.Error("callback of a dying weakref must not run")
	}
	if !w.Head().Freed() {
		t.Error("weakref should be freed with the cycle")
	}
}

func TestWeakrefFreedByItsCallback(t *testing.T) {
	s, _ := newState(t)
	a := newNode(t, s, "a")
	link(a, a)

	var holder []object.Object
	cb := newCallback(t, s, func(args ...object.Object) error {
		// drop the only external reference to the weakref
		for _, o := range holder {
			object.DecRef(o)
		}
		holder = nil
		return nil
	})
	w := newWeak(t, s, a, cb)
	holder = append(holder, w)
	object.DecRef(cb)
	object.DecRef(a)

	n, _ := s.Collect(2)
	// the cycle plus the weakref freed by the callback
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
	if !w.Head().Freed() {
		t.Error("weakref should be freed")
	}
}

func TestFrozenWeakrefStaysFrozenAfterCallback(t *testing.T) {
	s, _ := newState(t)
	a := newNode(t, s, "a")
	link(a, a)

	called := 0
	cb := newCallback(t, s, func(args ...object.Object) error {
		called++
		return nil
	})
	w := newWeak(t, s, a, cb)
	object.DecRef(cb)

	// freeze the weakref but not its referent
	s.Untrack(a)
	s.Freeze()
	s.Track(a)
	object.DecRef(a)
	if s.FreezeCount() != 1 {
		t.Fatalf("Expected 1 frozen object, got %d", s.FreezeCount())
	}

	n, _ := s.Collect(2)
	if n != 1 || called != 1 {
		t.Fatalf("Expected the referent collected and one callback, got n=%d calls=%d", n, called)
	}
	if s.FreezeCount() != 1 {
		t.Errorf("Expected 1 frozen object after collection, got %d", s.FreezeCount())
	}
	if w.Head().List() != &s.permanent[0] {
		t.Error("frozen weakref should stay in the permanent generation")
	}
	for i := 0; i < NumGenerations; i++ {
		if s.GenerationLen(i) != 0 {
			t.Errorf("Expected generation %d empty, got %d", i, s.GenerationLen(i))
		}
	}
	object.DecRef(w)
}

func TestDeallocClearsWeakrefsAndCallsBack(t *testing.T) {
	s, _ := newState(t)
	a := newNode(t, s, "a")

	called := 0
	var seen object.Object
	cb := newCallback(t, s, func(args ...object.Object) error {
		called++
		seen = args[0].(*weakref).referent
		return nil
	})
	w := newWeak(t, s, a, cb)
	object.DecRef(cb)

	object.DecRef(a)
	if called != 1 {
		t.Fatalf("Expected one callback, got %d", called)
	}
	if seen != nil {
		t.Error("weakref should be cleared when its callback runs")
	}
	if w.referent != nil || a.Head().WeakRefCount() != 0 {
		t.Error("weakref should be detached")
	}
	object.DecRef(w)
}
