package gc

import (
	"log"
	"os"

	"github.com/cockroachdb/errors"

	"cyclegc/pkg/fatal"
	"cyclegc/pkg/memory"
	"cyclegc/pkg/object"
)

// Generational cycle collector
//
// Reference counting frees most objects the moment they become garbage. What
// it cannot free is a group of objects that only reference each other. Every
// cycle-eligible container is therefore registered ("tracked") in one of
// three generations. Allocations drive a counter on generation 0; once it
// passes its threshold the oldest generation whose own counter passed its
// threshold is collected, together with every younger one. Survivors move up
// one generation.
//
// A State is not safe for concurrent use. Every call must come from the
// thread holding the execution lock.

// NumGenerations is the number of collectable generations
const NumGenerations = 3

// DefaultLongLivedPendingRatio: a full collection is skipped while fewer than
// 1/ratio of the long-lived objects are new since the last full collection.
const DefaultLongLivedPendingRatio = 4

// DefaultThresholds are the per-generation collection thresholds
var DefaultThresholds = [NumGenerations]int{700, 10, 10}

// Debug flags
const (
	DebugStats         = 1 << 0
	DebugCollectable   = 1 << 1
	DebugUncollectable = 1 << 2
	DebugSaveAll       = 1 << 5
	DebugLeak          = DebugCollectable | DebugUncollectable | DebugSaveAll
)

// ErrInvalidGeneration is returned for a manual collection of a generation
// that does not exist
var ErrInvalidGeneration = errors.New("invalid generation")

// Config configures a State. The zero value gives the default thresholds,
// automatic collection enabled, logging to stderr and an unlimited allocator.
type Config struct {
	// Thresholds as passed to SetThreshold; nil keeps the defaults
	Thresholds []int
	Debug      int
	Disabled   bool
	Logger     *log.Logger
	Allocator  memory.Allocator
	// LongLivedPendingRatio overrides DefaultLongLivedPendingRatio when > 0
	LongLivedPendingRatio int
}

type generation struct {
	list      object.List
	count     int
	threshold int
}

// GenerationStats are the cumulative results for one generation
type GenerationStats struct {
	Collections   int
	Collected     int
	Uncollectable int
}

// FreeListClearer is a per-type cache emptied on every full collection
type FreeListClearer interface {
	ClearFreeList() int
}

type freeListEntry struct {
	name string
	fl   FreeListClearer
}

type pendingDealloc struct {
	obj     object.Object
	tracked bool
}

// State holds every generation, the diagnostic lists and the statistics
type State struct {
	gens      [NumGenerations]generation
	permanent [NumGenerations]object.List

	enabled    bool
	collecting bool
	debug      int

	garbage   []object.Object
	callbacks []callbackEntry
	nextCBID  int

	stats [NumGenerations]GenerationStats

	// objects promoted to the oldest generation since the last full
	// collection, and its size after that collection
	longLivedPending int
	longLivedTotal   int
	ratio            int

	freeLists []freeListEntry

	pending  []pendingDealloc
	draining bool

	errOccurred func() bool

	inPass   bool
	passErrs []error

	logger *log.Logger
	alloc  memory.Allocator
}

// New creates a collector state
func New(cfg Config) *State {
	s := &State{
		enabled: !cfg.Disabled,
		debug:   cfg.Debug,
		logger:  cfg.Logger,
		alloc:   cfg.Allocator,
		ratio:   cfg.LongLivedPendingRatio,
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "", 0)
	}
	if s.alloc == nil {
		s.alloc = memory.NewBudgetAllocator(0)
	}
	if s.ratio <= 0 {
		s.ratio = DefaultLongLivedPendingRatio
	}
	for i := range s.gens {
		s.gens[i].threshold = DefaultThresholds[i]
	}
	if cfg.Thresholds != nil {
		s.SetThreshold(cfg.Thresholds...)
	}
	return s
}

// Logger returns the diagnostic logger
func (s *State) Logger() *log.Logger {
	return s.logger
}

// Allocator returns the allocator objects are accounted against
func (s *State) Allocator() memory.Allocator {
	return s.alloc
}

// SetErrorCheck installs the query for a pending exception on the running
// thread. Automatic collection does not start while it reports true.
func (s *State) SetErrorCheck(fn func() bool) {
	s.errOccurred = fn
}

func (s *State) errPending() bool {
	return s.errOccurred != nil && s.errOccurred()
}

// unraisable reports an error that cannot be propagated to a caller.
// Inside a collection pass the error is also kept for endPass.
func (s *State) unraisable(where string, err error) {
	if err == nil {
		return
	}
	s.logger.Printf("Exception ignored in: %s\n%v", where, err)
	if s.inPass {
		s.passErrs = append(s.passErrs, errors.Wrapf(err, "in %s", where))
	}
}

func (s *State) beginPass() {
	s.inPass = true
	s.passErrs = nil
}

// endPass escalates errors raised during the pass. The collector cannot
// unwind half way through, so in normal mode they abort the process.
func (s *State) endPass(nofail bool) {
	errs := s.passErrs
	s.inPass = false
	s.passErrs = nil
	if len(errs) == 0 || nofail {
		return
	}
	var err error
	for _, e := range errs {
		err = errors.CombineErrors(err, e)
	}
	s.logger.Printf("Exception ignored in: garbage collection\n%v", err)
	fatal.Wrap(err, "unexpected exception during garbage collection")
}
