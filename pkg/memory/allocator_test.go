package memory

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestBudgetAllocatorUnlimited(t *testing.T) {
	a := NewBudgetAllocator(0)
	for i := 0; i < 100; i++ {
		if err := a.Malloc(1000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if a.InUse() != 100*1000 {
		t.Errorf("expected 100000 bytes in use, got %d", a.InUse())
	}
}

func TestBudgetAllocatorExhaustion(t *testing.T) {
	a := NewBudgetAllocator(64)

	if err := a.Malloc(40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := a.Malloc(40)
	if err == nil {
		t.Fatal("expected out of memory")
	}
	if !errors.Is(err, ErrNoMemory) {
		t.Errorf("expected ErrNoMemory, got %v", err)
	}
	if a.Stats().Failures != 1 {
		t.Errorf("expected 1 failure, got %d", a.Stats().Failures)
	}

	a.Free(40)
	if err := a.Malloc(40); err != nil {
		t.Errorf("allocation should succeed after free: %v", err)
	}
}

func TestBudgetAllocatorAlignment(t *testing.T) {
	a := NewBudgetAllocator(0)
	a.Malloc(1)
	if a.InUse() != WordSize {
		t.Errorf("expected %d, got %d", WordSize, a.InUse())
	}
	a.Free(1)
	if a.InUse() != 0 {
		t.Errorf("expected 0, got %d", a.InUse())
	}
	if a.Stats().Peak != WordSize {
		t.Errorf("expected peak %d, got %d", WordSize, a.Stats().Peak)
	}
}

func TestBudgetAllocatorNegative(t *testing.T) {
	a := NewBudgetAllocator(0)
	err := a.Malloc(-1)
	if err == nil {
		t.Fatal("expected error for negative size")
	}
	if errors.Is(err, ErrNoMemory) {
		t.Error("negative size is not an out of memory condition")
	}
}

func TestFreeList(t *testing.T) {
	f := NewFreeList[int](2)

	if _, ok := f.Get(); ok {
		t.Error("empty free list should not return a value")
	}
	if !f.Put(1) || !f.Put(2) {
		t.Fatal("puts within capacity should succeed")
	}
	if f.Put(3) {
		t.Error("put beyond capacity should fail")
	}

	v, ok := f.Get()
	if !ok || v != 2 {
		t.Errorf("expected 2, got %d (%v)", v, ok)
	}
	if f.Reused != 1 {
		t.Errorf("expected 1 reuse, got %d", f.Reused)
	}

	released := 0
	if n := f.Clear(func(int) { released++ }); n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
	if released != 1 || f.Len() != 0 {
		t.Errorf("expected one release and empty list, got %d, %d", released, f.Len())
	}
}
