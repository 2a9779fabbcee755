package gil

import (
	"sync"
	"sync/atomic"
	"time"

	"cyclegc/pkg/fatal"
	"cyclegc/pkg/tstate"
)

// Execution lock
//
// A single token grants the right to mutate the object graph. It is not a
// general mutex: waiters wake up every interval, and when a whole interval
// passed without the token changing hands they raise the drop request. The
// holder notices the request at its next cooperative yield point (Checkpoint
// in the interp package) and hands the token over.
//
// With forced switching enabled, a holder that releases because of a drop
// request waits until some other thread has taken the token, so it cannot
// win the race to re-acquire immediately.
//
// Lock state:
//   -1  not created (before Create, after Destroy)
//    0  unlocked
//    1  held

// DefaultInterval is the default wait granularity
const DefaultInterval = 5 * time.Millisecond

const (
	stateUninitialized = -1
	stateUnlocked      = 0
	stateLocked        = 1
)

// Stats counts lock activity
type Stats struct {
	Acquisitions uint64
	Switches     uint64
	DropRequests uint64
	ForcedWaits  uint64
}

// Lock is the execution lock
type Lock struct {
	locked     atomic.Int32
	lastHolder atomic.Pointer[tstate.ThreadState]
	interval   atomic.Int64

	// mu guards switchNumber and the wait on wake
	mu           sync.Mutex
	wake         chan struct{}
	switchNumber uint64

	forceSwitching bool
	switchMu       sync.Mutex
	switchCond     *sync.Cond

	dropRequest atomic.Bool

	acquisitions atomic.Uint64
	dropRequests atomic.Uint64
	forcedWaits  atomic.Uint64
}

// New returns an uncreated lock. Call Create before use.
func New(interval time.Duration, forceSwitching bool) *Lock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Lock{forceSwitching: forceSwitching}
	l.switchCond = sync.NewCond(&l.switchMu)
	l.interval.Store(int64(interval))
	l.locked.Store(stateUninitialized)
	return l
}

// Created reports whether the lock exists
func (l *Lock) Created() bool {
	return l.locked.Load() >= 0
}

// Create initializes the lock in the unlocked state
func (l *Lock) Create() {
	l.mu.Lock()
	l.wake = make(chan struct{}, 1)
	l.mu.Unlock()
	l.lastHolder.Store(nil)
	l.dropRequest.Store(false)
	l.locked.Store(stateUnlocked)
}

// Destroy returns the lock to the uncreated state. Threads waiting in
// Acquire observe the destruction instead of taking the lock.
func (l *Lock) Destroy() {
	l.mu.Lock()
	l.locked.Store(stateUninitialized)
	if l.wake != nil {
		l.signal()
	}
	l.mu.Unlock()
}

// Recreate reinitializes the lock after a fork-like operation. Any state
// inherited from threads that no longer exist is discarded.
func (l *Lock) Recreate() {
	l.Create()
}

// ForceSwitching reports whether strict handoff is enabled
func (l *Lock) ForceSwitching() bool {
	return l.forceSwitching
}

// SetInterval sets the wait granularity
func (l *Lock) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Microsecond
	}
	l.interval.Store(int64(d))
}

// Interval returns the wait granularity
func (l *Lock) Interval() time.Duration {
	return time.Duration(l.interval.Load())
}

// Locked reports whether some thread holds the lock
func (l *Lock) Locked() bool {
	return l.locked.Load() == stateLocked
}

// Holder returns the thread holding the lock, or nil
func (l *Lock) Holder() *tstate.ThreadState {
	if !l.Locked() {
		return nil
	}
	return l.lastHolder.Load()
}

// LastHolder returns the most recent holder
func (l *Lock) LastHolder() *tstate.ThreadState {
	return l.lastHolder.Load()
}

// DropRequested reports whether a waiter asked the holder to yield
func (l *Lock) DropRequested() bool {
	return l.dropRequest.Load()
}

// SwitchNumber returns how many times ownership changed hands
func (l *Lock) SwitchNumber() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.switchNumber
}

// Stats returns a snapshot of lock activity
func (l *Lock) Stats() Stats {
	return Stats{
		Acquisitions: l.acquisitions.Load(),
		Switches:     l.SwitchNumber(),
		DropRequests: l.dropRequests.Load(),
		ForcedWaits:  l.forcedWaits.Load(),
	}
}

func (l *Lock) setDropRequest() {
	if !l.dropRequest.Swap(true) {
		l.dropRequests.Add(1)
	}
}

// timedWait releases mu, waits for a signal or the timeout, and reacquires mu
func (l *Lock) timedWait(d time.Duration) (timedOut bool) {
	timer := time.NewTimer(d)
	wake := l.wake
	l.mu.Unlock()
	select {
	case <-wake:
		timer.Stop()
	case <-timer.C:
		timedOut = true
	}
	l.mu.Lock()
	return timedOut
}

func (l *Lock) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Acquire blocks until ts holds the lock. Acquiring a lock that is
// destroyed while waiting is fatal.
func (l *Lock) Acquire(ts *tstate.ThreadState) {
	if ts == nil {
		fatal.Errorf("take_gil: NULL thread state")
	}
	if !l.Created() {
		fatal.Errorf("take_gil: lock not created")
	}
	if !l.acquire(ts) {
		fatal.Errorf("take_gil: lock destroyed")
	}
}

// AcquireUnlessDestroyed is Acquire for threads that may race with
// Destroy. It reports false, without holding the lock, when the lock was
// destroyed, or never created, before ts could take it.
func (l *Lock) AcquireUnlessDestroyed(ts *tstate.ThreadState) bool {
	if ts == nil {
		fatal.Errorf("take_gil: NULL thread state")
	}
	return l.acquire(ts)
}

func (l *Lock) acquire(ts *tstate.ThreadState) bool {
	l.mu.Lock()
	for l.locked.Load() == stateLocked {
		saved := l.switchNumber
		timedOut := l.timedWait(l.Interval())
		// A whole interval without a switch: ask the holder to yield.
		if timedOut && l.locked.Load() == stateLocked && l.switchNumber == saved {
			l.setDropRequest()
		}
	}
	if l.locked.Load() == stateUninitialized {
		// pass the wakeup on to the next waiter
		l.signal()
		l.mu.Unlock()
		return false
	}

	if l.forceSwitching {
		// must be held while updating lastHolder, see Release
		l.switchMu.Lock()
	}
	l.locked.Store(stateLocked)
	if l.lastHolder.Load() != ts {
		l.lastHolder.Store(ts)
		l.switchNumber++
	}
	if l.forceSwitching {
		l.switchCond.Signal()
		l.switchMu.Unlock()
	}

	l.dropRequest.Store(false)
	ts.SignalAsyncExc()
	l.acquisitions.Add(1)
	l.mu.Unlock()
	return true
}

// Release gives up the lock held by ts. ts may be nil during early startup.
func (l *Lock) Release(ts *tstate.ThreadState) {
	if l.locked.Load() != stateLocked {
		fatal.Errorf("drop_gil: GIL is not locked")
	}
	// Thread states may have been swapped behind our back; keep the
	// switch heuristics honest.
	if ts != nil {
		l.lastHolder.Store(ts)
	}

	l.mu.Lock()
	l.locked.Store(stateUnlocked)
	l.signal()
	l.mu.Unlock()

	if l.forceSwitching && ts != nil && l.dropRequest.Load() {
		l.switchMu.Lock()
		// Not switched yet: wait for another thread to take over.
		if l.lastHolder.Load() == ts {
			l.dropRequest.Store(false)
			l.forcedWaits.Add(1)
			l.switchCond.Wait()
		}
		l.switchMu.Unlock()
	}
}
