package gc

// maybeCollect runs after every cycle-eligible allocation. Threshold 0 turns
// automatic collection off.
func (s *State) maybeCollect() {
	g0 := &s.gens[0]
	if g0.count <= g0.threshold || g0.threshold == 0 {
		return
	}
	if !s.enabled || s.collecting || s.errPending() {
		return
	}
	s.collecting = true
	s.collectGenerations()
	s.collecting = false
}

// collectGenerations collects the oldest generation whose count exceeds its
// threshold. A full collection is postponed while the objects promoted into
// the oldest generation since the last one are less than 1/ratio of the
// objects that survived it: each full collection then costs time linear in
// the number of new long-lived objects instead of growing quadratically.
func (s *State) collectGenerations() int {
	for i := NumGenerations - 1; i >= 0; i-- {
		if s.gens[i].count <= s.gens[i].threshold {
			continue
		}
		if i == NumGenerations-1 && s.longLivedPending < s.longLivedTotal/s.ratio {
			continue
		}
		return s.collectWithCallback(i)
	}
	return 0
}

// LongLived returns the pending and total long-lived object counts
// driving the full collection heuristic
func (s *State) LongLived() (pending, total int) {
	return s.longLivedPending, s.longLivedTotal
}
