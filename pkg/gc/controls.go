package gc

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"cyclegc/pkg/object"
)

// Phase names the point at which a progress callback is invoked
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseStop  Phase = "stop"
)

// Info describes a collection to progress callbacks
type Info struct {
	Generation    int
	Collected     int
	Uncollectable int
}

// Callback is invoked around every collection started through the scheduler
// or Collect. Returned errors are reported like any other error raised
// during a pass.
type Callback func(phase Phase, info Info) error

type callbackEntry struct {
	id int
	fn Callback
}

// Enable turns automatic collection on
func (s *State) Enable() {
	s.enabled = true
}

// Disable turns automatic collection off
func (s *State) Disable() {
	s.enabled = false
}

// IsEnabled reports whether automatic collection is on
func (s *State) IsEnabled() bool {
	return s.enabled
}

// Collecting reports whether a pass is running
func (s *State) Collecting() bool {
	return s.collecting
}

// Collect runs a collection of generation gen (and every younger one) and
// returns the number of unreachable objects found. A collection requested
// while one is running does nothing.
func (s *State) Collect(gen int) (int, error) {
	if gen < 0 || gen >= NumGenerations {
		return 0, errors.Wrapf(ErrInvalidGeneration, "generation %d", gen)
	}
	if s.collecting {
		return 0, nil
	}
	s.collecting = true
	n := s.collectWithCallback(gen)
	s.collecting = false
	return n, nil
}

// CollectIfEnabled runs a full collection unless automatic collection is off
func (s *State) CollectIfEnabled() int {
	if !s.enabled {
		return 0
	}
	n, _ := s.Collect(NumGenerations - 1)
	return n
}

// CollectNoFail runs a full collection without progress callbacks and drops
// every error raised during it. Used at shutdown, where aborting would be
// worse than leaking.
func (s *State) CollectNoFail() int {
	if s.collecting {
		return 0
	}
	s.collecting = true
	s.beginPass()
	collected, uncollectable := s.collect(NumGenerations - 1)
	s.endPass(true)
	s.collecting = false
	return collected + uncollectable
}

// SetThreshold sets the collection thresholds from generation 0 upwards.
// Values past the last generation are ignored; a threshold of 0 for
// generation 0 disables automatic collection.
func (s *State) SetThreshold(thresholds ...int) {
	for i, t := range thresholds {
		if i >= NumGenerations {
			break
		}
		s.gens[i].threshold = t
	}
}

// Threshold returns the collection thresholds
func (s *State) Threshold() [NumGenerations]int {
	var out [NumGenerations]int
	for i := range s.gens {
		out[i] = s.gens[i].threshold
	}
	return out
}

// ThresholdOf returns the threshold of any generation index. Indices beyond
// the last generation share its threshold.
func (s *State) ThresholdOf(gen int) int {
	if gen < 0 {
		gen = 0
	}
	if gen >= NumGenerations {
		gen = NumGenerations - 1
	}
	return s.gens[gen].threshold
}

// Count returns the per-generation allocation/collection counters
func (s *State) Count() [NumGenerations]int {
	var out [NumGenerations]int
	for i := range s.gens {
		out[i] = s.gens[i].count
	}
	return out
}

// Stats returns the cumulative per-generation statistics
func (s *State) Stats() [NumGenerations]GenerationStats {
	return s.stats
}

// SetDebug sets the debug flags
func (s *State) SetDebug(flags int) {
	s.debug = flags
}

// Debug returns the debug flags
func (s *State) Debug() int {
	return s.debug
}

// Objects returns every tracked object outside the permanent generation
func (s *State) Objects() []object.Object {
	var out []object.Object
	for i := range s.gens {
		out = append(out, s.gens[i].list.Objects()...)
	}
	return out
}

// Garbage returns the objects found unreachable but not freed
func (s *State) Garbage() []object.Object {
	return s.garbage
}

// ClearGarbage empties the garbage list and drops its references
func (s *State) ClearGarbage() {
	garbage := s.garbage
	s.garbage = nil
	for _, o := range garbage {
		object.DecRef(o)
	}
}

// AddCallback registers a progress callback and returns its handle
func (s *State) AddCallback(fn Callback) int {
	s.nextCBID++
	s.callbacks = append(s.callbacks, callbackEntry{id: s.nextCBID, fn: fn})
	return s.nextCBID
}

// RemoveCallback unregisters a progress callback
func (s *State) RemoveCallback(id int) bool {
	for i, cb := range s.callbacks {
		if cb.id == id {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

func (s *State) invokeCallbacks(phase Phase, info Info) {
	// callbacks may unregister themselves
	cbs := append([]callbackEntry(nil), s.callbacks...)
	for _, cb := range cbs {
		if err := cb.fn(phase, info); err != nil {
			s.unraisable(fmt.Sprintf("gc callback %d (%s)", cb.id, phase), err)
		}
	}
}

// RegisterFreeList adds a cache to be emptied on full collections
func (s *State) RegisterFreeList(name string, fl FreeListClearer) {
	s.freeLists = append(s.freeLists, freeListEntry{name: name, fl: fl})
}

// Referrers returns the tracked objects that directly reference any of objs
func (s *State) Referrers(objs ...object.Object) []object.Object {
	want := make(map[object.Object]struct{}, len(objs))
	for _, o := range objs {
		want[o] = struct{}{}
	}
	visit := func(o object.Object) int {
		if _, ok := want[o]; ok {
			return 1
		}
		return 0
	}

	var out []object.Object
	for i := range s.gens {
		l := &s.gens[i].list
		for h := l.Front(); h != nil; h = l.Next(h) {
			if object.Traverse(h.Object(), visit) != 0 {
				out = append(out, h.Object())
			}
		}
	}
	return out
}

// Referents returns the objects directly referenced by objs
func (s *State) Referents(objs ...object.Object) []object.Object {
	var out []object.Object
	for _, o := range objs {
		if !object.IsGC(o) {
			continue
		}
		object.Traverse(o, func(r object.Object) int {
			out = append(out, r)
			return 0
		})
	}
	return out
}

// DumpShutdownStats warns about uncollectable objects left in the garbage
// list. Nothing is reported with DebugSaveAll, where the list is expected to
// be full.
func (s *State) DumpShutdownStats() {
	if s.debug&DebugSaveAll != 0 || len(s.garbage) == 0 {
		return
	}
	if s.debug&DebugUncollectable == 0 {
		s.logger.Printf("gc: %d uncollectable objects at shutdown; "+
			"use SetDebug(DebugUncollectable) to list them", len(s.garbage))
		return
	}
	s.logger.Printf("gc: %d uncollectable objects at shutdown", len(s.garbage))
	reprs := make([]string, len(s.garbage))
	for i, o := range s.garbage {
		reprs[i] = object.Repr(o)
	}
	s.logger.Printf("      [%s]", strings.Join(reprs, ", "))
}
