package memory

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Allocator accounting
//
// The runtime does not manage raw memory itself: Go owns the bytes. What the
// collector needs from an allocator is the contract: a request either
// succeeds or fails with a distinguishable out-of-memory signal, and every
// successful request is eventually returned. BudgetAllocator enforces a byte
// budget so exhaustion can be provoked and observed.

// ErrNoMemory is the out-of-memory signal returned by allocators
var ErrNoMemory = errors.New("out of memory")

// WordSize is the alignment every request is rounded up to
const WordSize = 8

// Allocator hands out and takes back accounted memory
type Allocator interface {
	Malloc(n int) error
	Free(n int)
}

// AllocStats tracks allocator activity
type AllocStats struct {
	Allocs   int64
	Frees    int64
	Failures int64
	InUse    int64
	Peak     int64
}

// BudgetAllocator is an Allocator with an optional byte budget.
// A zero limit means unlimited.
type BudgetAllocator struct {
	mu    sync.Mutex
	limit int64
	stats AllocStats
}

// NewBudgetAllocator creates an allocator that fails once limit bytes are in use
func NewBudgetAllocator(limit int) *BudgetAllocator {
	return &BudgetAllocator{limit: int64(limit)}
}

// Align rounds n up to the allocator word size
func Align(n int) int {
	return (n + WordSize - 1) &^ (WordSize - 1)
}

// Malloc reserves n bytes
func (a *BudgetAllocator) Malloc(n int) error {
	if n < 0 {
		return errors.Newf("invalid allocation size %d", n)
	}
	n = Align(n)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.stats.InUse+int64(n) > a.limit {
		a.stats.Failures++
		return errors.Wrapf(ErrNoMemory, "requested %d bytes with %d of %d in use",
			n, a.stats.InUse, a.limit)
	}
	a.stats.Allocs++
	a.stats.InUse += int64(n)
	if a.stats.InUse > a.stats.Peak {
		a.stats.Peak = a.stats.InUse
	}
	return nil
}

// Free returns n bytes
func (a *BudgetAllocator) Free(n int) {
	n = Align(n)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Frees++
	a.stats.InUse -= int64(n)
	if a.stats.InUse < 0 {
		a.stats.InUse = 0
	}
}

// InUse returns the number of bytes currently reserved
func (a *BudgetAllocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.InUse
}

// SetLimit changes the budget; zero removes it
func (a *BudgetAllocator) SetLimit(limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = int64(limit)
}

// Stats returns a snapshot of allocator activity
func (a *BudgetAllocator) Stats() AllocStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
