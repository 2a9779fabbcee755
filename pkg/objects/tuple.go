package objects

import (
	"strings"

	"cyclegc/pkg/memory"
	"cyclegc/pkg/object"
)

// TupleType is untracked opportunistically once a scan shows the tuple only
// holds atoms
var TupleType = &object.Type{Name: "tuple", GC: true, Untrack: object.UntrackDuringScan}

// Tuple is a fixed-size container
type Tuple struct {
	object.Header
	heap  *Heap
	items []object.Object
}

// NewTuple allocates a tuple holding new references to items.
// Small tuples are served from the free list when possible.
func (h *Heap) NewTuple(items ...object.Object) (*Tuple, error) {
	n := len(items)
	var t *Tuple
	if n > 0 && n <= maxCachedTupleLen {
		if cached, ok := h.tuples[n].Get(); ok {
			t = cached
			h.gc.Reuse(t, TupleType)
		}
	}
	if t == nil {
		t = &Tuple{heap: h, items: make([]object.Object, 0, n)}
		if err := h.gc.Alloc(t, TupleType, n*memory.WordSize); err != nil {
			return nil, err
		}
	}
	for _, it := range items {
		t.items = append(t.items, object.NewRef(it))
	}
	h.gc.Track(t)
	return t, nil
}

func (t *Tuple) Len() int {
	return len(t.items)
}

// Item returns a borrowed reference
func (t *Tuple) Item(i int) object.Object {
	return t.items[i]
}

func (t *Tuple) Traverse(visit object.VisitFunc) int {
	for _, it := range t.items {
		if it == nil {
			continue
		}
		if v := visit(it); v != 0 {
			return v
		}
	}
	return 0
}

func (t *Tuple) Clear() error {
	t.Destroy()
	return nil
}

func (t *Tuple) Destroy() {
	items := t.items
	t.items = t.items[:0]
	decRefAll(items)
}

// MaybeUntrack reports whether the tuple only holds values the collector
// never needs to see
func (t *Tuple) MaybeUntrack() bool {
	for _, it := range t.items {
		if it == nil || mayBeTracked(it) {
			return false
		}
	}
	return true
}

// Recycle parks the tuple in the free list for its length
func (t *Tuple) Recycle() bool {
	n := cap(t.items)
	if n == 0 || n > maxCachedTupleLen {
		return false
	}
	return t.heap.tuples[n].Put(t)
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.items))
	for i, it := range t.items {
		parts[i] = object.Repr(it)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
