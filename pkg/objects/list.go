package objects

import (
	"strings"

	"github.com/cockroachdb/errors"

	"cyclegc/pkg/object"
)

var ListType = &object.Type{Name: "list", GC: true}

// ErrIndex is returned for an out of range index
var ErrIndex = errors.New("index out of range")

// List is a mutable sequence
type List struct {
	object.Header
	items []object.Object
}

// NewList allocates a tracked list holding new references to items
func (h *Heap) NewList(items ...object.Object) (*List, error) {
	l := &List{items: make([]object.Object, 0, len(items))}
	if err := h.gc.Alloc(l, ListType, 0); err != nil {
		return nil, err
	}
	for _, it := range items {
		l.items = append(l.items, object.NewRef(it))
	}
	h.gc.Track(l)
	return l, nil
}

func (l *List) Len() int {
	return len(l.items)
}

// Append stores a new reference to o
func (l *List) Append(o object.Object) {
	l.items = append(l.items, object.NewRef(o))
}

// Get returns a borrowed reference
func (l *List) Get(i int) (object.Object, error) {
	if i < 0 || i >= len(l.items) {
		return nil, errors.Wrapf(ErrIndex, "list index %d", i)
	}
	return l.items[i], nil
}

// Set replaces item i, dropping the old reference
func (l *List) Set(i int, o object.Object) error {
	if i < 0 || i >= len(l.items) {
		return errors.Wrapf(ErrIndex, "list assignment index %d", i)
	}
	old := l.items[i]
	l.items[i] = object.NewRef(o)
	object.XDecRef(old)
	return nil
}

// Pop removes the last item and returns the reference it held
func (l *List) Pop() (object.Object, error) {
	if len(l.items) == 0 {
		return nil, errors.Wrap(ErrIndex, "pop from empty list")
	}
	last := len(l.items) - 1
	o := l.items[last]
	l.items[last] = nil
	l.items = l.items[:last]
	return o, nil
}

func (l *List) Traverse(visit object.VisitFunc) int {
	for _, it := range l.items {
		if it == nil {
			continue
		}
		if v := visit(it); v != 0 {
			return v
		}
	}
	return 0
}

func (l *List) Clear() error {
	items := l.items
	l.items = nil
	decRefAll(items)
	return nil
}

func (l *List) String() string {
	parts := make([]string, len(l.items))
	for i, it := range l.items {
		if it == object.Object(l) {
			parts[i] = "[...]"
			continue
		}
		parts[i] = object.Repr(it)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
