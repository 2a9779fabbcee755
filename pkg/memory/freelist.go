package memory

// FreeList is a bounded cache of released values kept for reuse.
// Types with hot allocation paths (small tuples) park dead instances here
// instead of returning them to the allocator. The collector empties every
// registered free list after a full collection.
type FreeList[T any] struct {
	items  []T
	max    int
	Reused int
}

// NewFreeList creates a free list holding at most max values
func NewFreeList[T any](max int) *FreeList[T] {
	return &FreeList[T]{max: max}
}

// Get pops a cached value
func (f *FreeList[T]) Get() (T, bool) {
	var zero T
	if len(f.items) == 0 {
		return zero, false
	}
	v := f.items[len(f.items)-1]
	f.items[len(f.items)-1] = zero
	f.items = f.items[:len(f.items)-1]
	f.Reused++
	return v, true
}

// Put caches v, returning false when the list is full
func (f *FreeList[T]) Put(v T) bool {
	if len(f.items) >= f.max {
		return false
	}
	f.items = append(f.items, v)
	return true
}

// Len returns the number of cached values
func (f *FreeList[T]) Len() int {
	return len(f.items)
}

// Clear hands every cached value to release and returns how many there were.
// release may be nil.
func (f *FreeList[T]) Clear(release func(T)) int {
	n := len(f.items)
	if release != nil {
		for _, v := range f.items {
			release(v)
		}
	}
	f.items = nil
	return n
}
