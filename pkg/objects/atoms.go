package objects

import (
	"strconv"

	"cyclegc/pkg/object"
)

var (
	IntType = &object.Type{Name: "int", Size: 8}
	StrType = &object.Type{Name: "str", Size: 8}
)

// Int is an immutable integer
type Int struct {
	object.Header
	V int64
}

// NewInt allocates an integer
func (h *Heap) NewInt(v int64) (*Int, error) {
	i := &Int{V: v}
	if err := h.gc.Alloc(i, IntType, 0); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Int) String() string {
	return strconv.FormatInt(i.V, 10)
}

// Str is an immutable string
type Str struct {
	object.Header
	V string
}

// NewStr allocates a string
func (h *Heap) NewStr(v string) (*Str, error) {
	s := &Str{V: v}
	if err := h.gc.Alloc(s, StrType, len(v)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Str) String() string {
	return strconv.Quote(s.V)
}
