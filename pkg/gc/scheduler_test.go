package gc

import (
	"testing"

	"cyclegc/pkg/memory"
	"cyclegc/pkg/object"
)

func TestThresholdRoundTrip(t *testing.T) {
	s, _ := newState(t)
	if s.Threshold() != DefaultThresholds {
		t.Errorf("Expected defaults, got %v", s.Threshold())
	}

	s.SetThreshold(1, 2, 3)
	if s.Threshold() != [NumGenerations]int{1, 2, 3} {
		t.Errorf("Expected (1,2,3), got %v", s.Threshold())
	}

	s.SetThreshold(5)
	if s.Threshold() != [NumGenerations]int{5, 2, 3} {
		t.Errorf("Expected (5,2,3), got %v", s.Threshold())
	}

	s.SetThreshold(7, 8, 9, 10)
	if s.Threshold() != [NumGenerations]int{7, 8, 9} {
		t.Errorf("Expected (7,8,9), got %v", s.Threshold())
	}
	if s.ThresholdOf(5) != 9 {
		t.Errorf("generations past the last share its threshold, got %d", s.ThresholdOf(5))
	}
}

func TestConfigThresholds(t *testing.T) {
	s := New(Config{Thresholds: []int{100, 5}, Disabled: true})
	if s.Threshold() != [NumGenerations]int{100, 5, 10} {
		t.Errorf("unexpected thresholds %v", s.Threshold())
	}
	if s.IsEnabled() {
		t.Error("collector should start disabled")
	}
}

func makeGarbage(t *testing.T, s *State, cycles int) {
	t.Helper()
	for i := 0; i < cycles; i++ {
		cycle(t, s, 2)
	}
}

func TestAutomaticCollection(t *testing.T) {
	s, _ := newState(t)
	s.SetThreshold(10, 10, 10)

	makeGarbage(t, s, 50)

	if s.Stats()[0].Collections == 0 {
		t.Fatal("allocations past the threshold should trigger collections")
	}
	if s.Stats()[0].Collected == 0 {
		t.Error("automatic collections should reclaim cycles")
	}
	if got := len(s.Objects()); got >= 100 {
		t.Errorf("Expected some cycles reclaimed, %d objects tracked", got)
	}
}

func TestDisabledCollectorDoesNotRun(t *testing.T) {
	s, _ := newState(t)
	s.SetThreshold(10, 10, 10)
	s.Disable()

	makeGarbage(t, s, 50)

	if s.Stats()[0].Collections != 0 {
		t.Error("disabled collector ran")
	}
	if got := len(s.Objects()); got != 100 {
		t.Errorf("Expected 100 tracked objects, got %d", got)
	}
}

func TestZeroThresholdDisablesCollection(t *testing.T) {
	s, _ := newState(t)
	s.SetThreshold(0)

	makeGarbage(t, s, 50)

	if s.Stats()[0].Collections != 0 {
		t.Error("threshold 0 should disable automatic collection")
	}
	if s.Count()[0] != 100 {
		t.Errorf("allocations should still be counted, got %d", s.Count()[0])
	}
}

func TestPendingErrorPostponesCollection(t *testing.T) {
	s, _ := newState(t)
	s.SetThreshold(10, 10, 10)
	pending := true
	s.SetErrorCheck(func() bool { return pending })

	makeGarbage(t, s, 20)
	if s.Stats()[0].Collections != 0 {
		t.Error("collection must not start with an exception pending")
	}

	pending = false
	makeGarbage(t, s, 1)
	if s.Stats()[0].Collections != 1 {
		t.Errorf("Expected 1 collection, got %d", s.Stats()[0].Collections)
	}
}

func TestLongLivedHeuristicSkipsFullCollection(t *testing.T) {
	s, _ := newState(t)
	s.gens[2].count = s.gens[2].threshold + 1
	s.longLivedTotal = 100
	s.longLivedPending = 24

	s.collectGenerations()
	if s.Stats()[2].Collections != 0 {
		t.Error("full collection should be skipped below the pending ratio")
	}

	s.longLivedPending = 25
	s.collectGenerations()
	if s.Stats()[2].Collections != 1 {
		t.Error("full collection should run once a quarter is pending")
	}
}

func TestLongLivedRatioOverride(t *testing.T) {
	s := New(Config{LongLivedPendingRatio: 2})
	s.gens[2].count = s.gens[2].threshold + 1
	s.longLivedTotal = 100
	s.longLivedPending = 30

	s.collectGenerations()
	if s.Stats()[2].Collections != 0 {
		t.Error("full collection should wait for half of the long-lived objects")
	}
}

func TestOldestEligibleGenerationIsCollected(t *testing.T) {
	s, _ := newState(t)
	s.gens[0].count = s.gens[0].threshold + 1
	s.gens[1].count = s.gens[1].threshold + 1

	s.collectGenerations()
	st := s.Stats()
	if st[1].Collections != 1 || st[0].Collections != 0 {
		t.Errorf("Expected generation 1 collected, got %+v", st)
	}
	if s.Count() != [NumGenerations]int{0, 0, 1} {
		t.Errorf("unexpected counts %v", s.Count())
	}
}

func TestFreezeUnfreezeRestoresGenerations(t *testing.T) {
	s, _ := newState(t)
	for i := 0; i < 3; i++ {
		newNode(t, s, "old")
	}
	s.Collect(0)
	for i := 0; i < 2; i++ {
		newNode(t, s, "young")
	}
	before := [NumGenerations]int{s.GenerationLen(0), s.GenerationLen(1), s.GenerationLen(2)}
	if before != [NumGenerations]int{2, 3, 0} {
		t.Fatalf("unexpected layout %v", before)
	}

	s.Freeze()
	if s.FreezeCount() != 5 {
		t.Errorf("Expected 5 frozen, got %d", s.FreezeCount())
	}
	if len(s.Objects()) != 0 {
		t.Error("frozen objects should leave the generations")
	}
	if s.Count() != [NumGenerations]int{} {
		t.Errorf("freeze should reset counts, got %v", s.Count())
	}

	s.Unfreeze()
	after := [NumGenerations]int{s.GenerationLen(0), s.GenerationLen(1), s.GenerationLen(2)}
	if after != before {
		t.Errorf("Expected %v after unfreeze, got %v", before, after)
	}
	if s.FreezeCount() != 0 {
		t.Errorf("Expected 0 frozen, got %d", s.FreezeCount())
	}
}

func TestFrozenGarbageIsIgnored(t *testing.T) {
	s, _ := newState(t)
	cycle(t, s, 2)
	s.Freeze()

	if n, _ := s.Collect(2); n != 0 {
		t.Errorf("frozen cycle must not be collected, got %d", n)
	}
	s.Unfreeze()
	if n, _ := s.Collect(2); n != 2 {
		t.Errorf("Expected 2 after unfreeze, got %d", n)
	}
}

func TestLongChainDeallocatesIteratively(t *testing.T) {
	alloc := memory.NewBudgetAllocator(0)
	s := New(Config{Allocator: alloc, Disabled: true})

	const length = 100000
	nodes := make([]*node, 0, length)
	var head *node
	for i := 0; i < length; i++ {
		n := &node{}
		mustAlloc(t, s, n, nodeType)
		s.Track(n)
		if head != nil {
			n.refs = []object.Object{head} // takes over the creation reference
		}
		head = n
		nodes = append(nodes, n)
	}

	object.DecRef(head)
	for i, n := range nodes {
		if !n.Head().Freed() {
			t.Fatalf("node %d not freed", i)
		}
	}
	if s.PendingDeallocs() != 0 {
		t.Errorf("Expected empty worklist, got %d", s.PendingDeallocs())
	}
	if alloc.InUse() != 0 {
		t.Errorf("Expected all memory returned, got %d bytes", alloc.InUse())
	}
	if len(s.Objects()) != 0 {
		t.Error("freed nodes should be untracked")
	}
}

func TestTupleUntrackedDuringScan(t *testing.T) {
	s, _ := newState(t)
	tup := &tupleNode{node{name: "tup"}}
	mustAlloc(t, s, tup, tupleType)
	a := newAtom(t, s, 1)
	tup.refs = []object.Object{a}
	s.Track(tup)

	holder := &tupleNode{node{name: "holder"}}
	mustAlloc(t, s, holder, tupleType)
	inner := newNode(t, s, "inner")
	holder.refs = []object.Object{inner}
	s.Track(holder)

	s.Collect(0)
	if s.IsTracked(tup) {
		t.Error("tuple of atoms should be untracked")
	}
	if !s.IsTracked(holder) {
		t.Error("tuple holding a tracked container must stay tracked")
	}
	if tup.Head().Freed() {
		t.Error("untracking must not free")
	}
}

func TestDictUntrackedOnFullCollectionOnly(t *testing.T) {
	s, _ := newState(t)
	d := &dictNode{tupleNode{node{name: "d"}}}
	mustAlloc(t, s, d, dictType)
	d.refs = []object.Object{newAtom(t, s, 1)}
	s.Track(d)

	s.Collect(1)
	if !s.IsTracked(d) {
		t.Error("dict should stay tracked on a young collection")
	}
	s.Collect(2)
	if s.IsTracked(d) {
		t.Error("dict of atoms should be untracked by a full collection")
	}
}

type countingFreeList struct {
	clears int
}

func (f *countingFreeList) ClearFreeList() int {
	f.clears++
	return 0
}

func TestFreeListsClearedOnFullCollection(t *testing.T) {
	s, _ := newState(t)
	fl := &countingFreeList{}
	s.RegisterFreeList("test", fl)

	s.Collect(0)
	s.Collect(1)
	if fl.clears != 0 {
		t.Error("young collections must not clear free lists")
	}
	s.Collect(2)
	if fl.clears != 1 {
		t.Errorf("Expected 1 clear, got %d", fl.clears)
	}
}
