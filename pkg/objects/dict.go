package objects

import (
	"fmt"
	"sort"
	"strings"

	"cyclegc/pkg/object"
)

// DictType is only untracked by full collections: scanning every dict on
// each young collection would make dict-heavy programs quadratic.
var DictType = &object.Type{Name: "dict", GC: true, Untrack: object.UntrackOnFullCollection}

// Dict maps string keys to values. A dict starts untracked and is tracked as
// soon as it stores a value that may be a tracked container.
type Dict struct {
	object.Header
	heap  *Heap
	items map[string]object.Object
}

// NewDict allocates an empty dict
func (h *Heap) NewDict() (*Dict, error) {
	d := &Dict{heap: h, items: make(map[string]object.Object)}
	if err := h.gc.Alloc(d, DictType, 0); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dict) Len() int {
	return len(d.items)
}

// Set stores a new reference to v under key
func (d *Dict) Set(key string, v object.Object) {
	if !d.Head().IsTracked() && mayBeTracked(v) {
		d.heap.gc.Track(d)
	}
	old := d.items[key]
	d.items[key] = object.NewRef(v)
	object.XDecRef(old)
}

// Get returns a borrowed reference, or nil
func (d *Dict) Get(key string) object.Object {
	return d.items[key]
}

// Delete drops the value stored under key
func (d *Dict) Delete(key string) bool {
	old, ok := d.items[key]
	if !ok {
		return false
	}
	delete(d.items, key)
	object.DecRef(old)
	return true
}

func (d *Dict) Traverse(visit object.VisitFunc) int {
	for _, v := range d.items {
		if r := visit(v); r != 0 {
			return r
		}
	}
	return 0
}

func (d *Dict) Clear() error {
	items := d.items
	d.items = make(map[string]object.Object)
	for _, v := range items {
		object.DecRef(v)
	}
	return nil
}

// MaybeUntrack reports whether no value may be a tracked container
func (d *Dict) MaybeUntrack() bool {
	for _, v := range d.items {
		if mayBeTracked(v) {
			return false
		}
	}
	return true
}

func (d *Dict) String() string {
	keys := make([]string, 0, len(d.items))
	for k := range d.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := d.items[k]
		if v == object.Object(d) {
			parts[i] = fmt.Sprintf("%q: {...}", k)
			continue
		}
		parts[i] = fmt.Sprintf("%q: %s", k, object.Repr(v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
