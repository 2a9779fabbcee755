package gc

import (
	"cyclegc/pkg/fatal"
	"cyclegc/pkg/object"
)

// Track registers o in generation 0. Tracking an object twice is fatal.
func (s *State) Track(o object.Object) {
	h := o.Head()
	if h.IsTracked() {
		fatal.Errorf("GC object %s already tracked", object.Repr(o))
	}
	if h.Freed() {
		fatal.Errorf("tracking freed object %s", object.Repr(o))
	}
	h.SetGCRefs(object.RefsReachable)
	s.gens[0].list.Append(h)
}

// Untrack removes o from whichever list holds it. Untracking an untracked
// object does nothing.
func (s *State) Untrack(o object.Object) {
	h := o.Head()
	if !h.IsTracked() {
		return
	}
	object.Unlink(h)
	h.SetGCRefs(object.RefsUntracked)
}

// IsTracked reports whether o is known to the collector
func (s *State) IsTracked(o object.Object) bool {
	return object.IsGC(o) && o.Head().IsTracked()
}

// Freeze moves every tracked object into the permanent generation, which no
// collection looks at. Generation counters are reset.
func (s *State) Freeze() {
	for i := range s.gens {
		s.permanent[i].Merge(&s.gens[i].list)
		s.gens[i].count = 0
	}
}

// Unfreeze returns frozen objects to the generation they were frozen from
func (s *State) Unfreeze() {
	for i := range s.gens {
		s.gens[i].list.Merge(&s.permanent[i])
	}
}

func (s *State) frozen(h *object.Header) bool {
	l := h.List()
	for i := range s.permanent {
		if l == &s.permanent[i] {
			return true
		}
	}
	return false
}

// FreezeCount returns the number of frozen objects
func (s *State) FreezeCount() int {
	n := 0
	for i := range s.permanent {
		n += s.permanent[i].Len()
	}
	return n
}

// GenerationLen returns the number of objects tracked in generation gen
func (s *State) GenerationLen(gen int) int {
	if gen < 0 || gen >= NumGenerations {
		return 0
	}
	return s.gens[gen].list.Len()
}
