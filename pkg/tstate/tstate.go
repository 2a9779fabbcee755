package tstate

import (
	"sync"
	"sync/atomic"
)

// ThreadState is the per-thread record consulted by the execution lock and
// the collector. Apart from the async exception slot, its fields are only
// touched by the owning thread while it holds the execution lock.
type ThreadState struct {
	ID       uint64
	NativeID int

	err error

	asyncMu      sync.Mutex
	asyncExc     error
	asyncPending atomic.Bool
}

var nextID atomic.Uint64

// New creates a thread state for the calling goroutine
func New() *ThreadState {
	return &ThreadState{
		ID:       nextID.Add(1),
		NativeID: nativeThreadID(),
	}
}

// SetErr records a pending exception
func (ts *ThreadState) SetErr(err error) {
	ts.err = err
}

// Err returns the pending exception
func (ts *ThreadState) Err() error {
	return ts.err
}

// ErrOccurred reports whether an exception is pending
func (ts *ThreadState) ErrOccurred() bool {
	return ts.err != nil
}

// ClearErr drops the pending exception
func (ts *ThreadState) ClearErr() {
	ts.err = nil
}

// FetchErr removes and returns the pending exception
func (ts *ThreadState) FetchErr() error {
	err := ts.err
	ts.err = nil
	return err
}

// RestoreErr reinstates an exception saved with FetchErr
func (ts *ThreadState) RestoreErr(err error) {
	ts.err = err
}

// SetAsyncExc schedules err to be raised in this thread at its next
// acquisition of the execution lock or cooperative yield point.
// Passing nil cancels a scheduled exception.
func (ts *ThreadState) SetAsyncExc(err error) {
	ts.asyncMu.Lock()
	ts.asyncExc = err
	ts.asyncMu.Unlock()
	if err == nil {
		ts.asyncPending.Store(false)
	}
}

// HasAsyncExc reports whether an async exception is scheduled
func (ts *ThreadState) HasAsyncExc() bool {
	ts.asyncMu.Lock()
	defer ts.asyncMu.Unlock()
	return ts.asyncExc != nil
}

// SignalAsyncExc arms delivery of a scheduled async exception.
// Called by the execution lock when the thread acquires it.
func (ts *ThreadState) SignalAsyncExc() {
	if ts.HasAsyncExc() {
		ts.asyncPending.Store(true)
	}
}

// AsyncExcPending reports whether an armed async exception awaits delivery
func (ts *ThreadState) AsyncExcPending() bool {
	return ts.asyncPending.Load()
}

// TakeAsyncExc delivers an armed async exception: it becomes the pending
// exception and is returned. Returns nil when nothing is armed.
func (ts *ThreadState) TakeAsyncExc() error {
	if !ts.asyncPending.Swap(false) {
		return nil
	}
	ts.asyncMu.Lock()
	err := ts.asyncExc
	ts.asyncExc = nil
	ts.asyncMu.Unlock()
	if err != nil {
		ts.err = err
	}
	return err
}
