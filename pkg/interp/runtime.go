package interp

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"cyclegc/pkg/fatal"
	"cyclegc/pkg/gc"
	"cyclegc/pkg/gil"
	"cyclegc/pkg/objects"
	"cyclegc/pkg/tstate"
)

// Runtime state
//
// A Runtime bundles everything one interpreter instance owns: its collector,
// its heap of runtime values, the execution lock and the registry of thread
// states. Nothing is process global, so several runtimes can coexist, each
// with an isolated collector.
//
// The collector and the heap are only touched by the thread holding the
// execution lock. The thread registry has its own mutex because threads
// come and go without holding the lock.

// Config configures a Runtime
type Config struct {
	GC gc.Config
	// SwitchInterval is the execution lock wait granularity; 0 keeps
	// gil.DefaultInterval
	SwitchInterval time.Duration
	ForceSwitching bool
}

// Runtime is one interpreter instance
type Runtime struct {
	gc   *gc.State
	heap *objects.Heap
	lock *gil.Lock

	mu        sync.Mutex
	threads   map[uint64]*tstate.ThreadState
	finalized bool
}

// New creates a runtime with its execution lock created and unlocked
func New(cfg Config) *Runtime {
	r := &Runtime{
		gc:      gc.New(cfg.GC),
		lock:    gil.New(cfg.SwitchInterval, cfg.ForceSwitching),
		threads: make(map[uint64]*tstate.ThreadState),
	}
	r.heap = objects.NewHeap(r.gc)
	r.gc.SetErrorCheck(r.holderErrOccurred)
	r.lock.Create()
	return r
}

func (r *Runtime) holderErrOccurred() bool {
	if ts := r.lock.Holder(); ts != nil {
		return ts.ErrOccurred()
	}
	return false
}

// GC returns the runtime's collector
func (r *Runtime) GC() *gc.State {
	return r.gc
}

// Heap returns the runtime's value factory
func (r *Runtime) Heap() *objects.Heap {
	return r.heap
}

// Lock returns the execution lock
func (r *Runtime) Lock() *gil.Lock {
	return r.lock
}

// NewThread registers a thread state for the calling goroutine
func (r *Runtime) NewThread() *tstate.ThreadState {
	ts := tstate.New()
	r.mu.Lock()
	r.threads[ts.ID] = ts
	r.mu.Unlock()
	return ts
}

// DeleteThread unregisters ts. A thread cannot be deleted while it holds
// the execution lock.
func (r *Runtime) DeleteThread(ts *tstate.ThreadState) {
	if r.lock.Holder() == ts {
		fatal.Errorf("DeleteThread: thread %d still holds the execution lock", ts.ID)
	}
	r.mu.Lock()
	delete(r.threads, ts.ID)
	r.mu.Unlock()
}

// Threads returns the registered thread states ordered by id
func (r *Runtime) Threads() []*tstate.ThreadState {
	r.mu.Lock()
	out := make([]*tstate.ThreadState, 0, len(r.threads))
	for _, ts := range r.threads {
		out = append(out, ts)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Acquire blocks until ts holds the execution lock
func (r *Runtime) Acquire(ts *tstate.ThreadState) {
	r.lock.Acquire(ts)
}

// AcquireIfRunning is Acquire for threads that may outlive the runtime,
// such as a metrics scraper. It reports false, without holding the lock,
// once Finalize has destroyed it.
func (r *Runtime) AcquireIfRunning(ts *tstate.ThreadState) bool {
	return r.lock.AcquireUnlessDestroyed(ts)
}

// Release gives up the execution lock
func (r *Runtime) Release(ts *tstate.ThreadState) {
	r.lock.Release(ts)
}

func (r *Runtime) mustHold(ts *tstate.ThreadState, op string) {
	if ts == nil || r.lock.Holder() != ts {
		fatal.Errorf("%s: thread does not hold the execution lock", op)
	}
}

// AllowThreads releases the lock around fn, which must not touch the heap
// or the collector, and reacquires it afterwards
func (r *Runtime) AllowThreads(ts *tstate.ThreadState, fn func()) {
	r.mustHold(ts, "AllowThreads")
	r.lock.Release(ts)
	defer r.lock.Acquire(ts)
	fn()
}

// Checkpoint is the cooperative yield point. When a waiting thread asked
// for the lock, it is handed over and reacquired. A pending async
// exception is then raised in ts and returned.
func (r *Runtime) Checkpoint(ts *tstate.ThreadState) error {
	r.mustHold(ts, "Checkpoint")
	if r.lock.DropRequested() {
		r.lock.Release(ts)
		r.lock.Acquire(ts)
	}
	return ts.TakeAsyncExc()
}

// Collect runs a manual collection on behalf of ts. Any exception pending
// in ts is set aside for the duration of the pass.
func (r *Runtime) Collect(ts *tstate.ThreadState, gen int) (int, error) {
	r.mustHold(ts, "Collect")
	saved := ts.FetchErr()
	defer ts.RestoreErr(saved)
	return r.gc.Collect(gen)
}

// Start runs fn on a new goroutine with its own thread state, holding the
// execution lock. The returned channel delivers fn's result once the
// thread is gone.
func (r *Runtime) Start(fn func(ts *tstate.ThreadState) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		// the native id of a thread state must stay valid
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		ts := r.NewThread()
		r.lock.Acquire(ts)
		err := fn(ts)
		r.lock.Release(ts)
		r.DeleteThread(ts)
		done <- err
	}()
	return done
}

// AfterFork reinitializes the runtime in a forked child where only ts
// survived. The lock is recreated and taken by ts, and every other thread
// state is discarded.
func (r *Runtime) AfterFork(ts *tstate.ThreadState) {
	if !r.lock.Created() {
		return
	}
	r.lock.Recreate()
	r.lock.Acquire(ts)

	r.mu.Lock()
	for id := range r.threads {
		if id != ts.ID {
			delete(r.threads, id)
		}
	}
	r.threads[ts.ID] = ts
	r.mu.Unlock()
}

// Finalize shuts the runtime down: a last full collection that never
// aborts, a warning about uncollectable objects, and the lock is destroyed.
// ts must hold the lock. Returns the number of unreachable objects found.
func (r *Runtime) Finalize(ts *tstate.ThreadState) int {
	r.mustHold(ts, "Finalize")
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return 0
	}
	r.finalized = true
	r.mu.Unlock()

	n := r.gc.CollectNoFail()
	r.gc.DumpShutdownStats()
	r.lock.Destroy()
	return n
}

// Finalized reports whether Finalize ran
func (r *Runtime) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}
