package objects

import (
	"fmt"

	"cyclegc/pkg/object"
)

var FuncType = &object.Type{Name: "function", GC: true, WeakRefs: true}

// Func is a callable closing over runtime values
type Func struct {
	object.Header
	Name     string
	captured []object.Object
	fn       func(self *Func, args ...object.Object) error
}

// NewFunc creates a tracked function holding new references to captured
func (h *Heap) NewFunc(name string, fn func(self *Func, args ...object.Object) error, captured ...object.Object) (*Func, error) {
	f := &Func{Name: name, fn: fn}
	if err := h.gc.Alloc(f, FuncType, 0); err != nil {
		return nil, err
	}
	for _, c := range captured {
		f.captured = append(f.captured, object.NewRef(c))
	}
	h.gc.Track(f)
	return f, nil
}

// Captured returns a borrowed reference to captured value i
func (f *Func) Captured(i int) object.Object {
	return f.captured[i]
}

func (f *Func) Call(args ...object.Object) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(f, args...)
}

func (f *Func) Traverse(visit object.VisitFunc) int {
	for _, c := range f.captured {
		if r := visit(c); r != 0 {
			return r
		}
	}
	return 0
}

func (f *Func) Clear() error {
	captured := f.captured
	f.captured = nil
	decRefAll(captured)
	return nil
}

func (f *Func) String() string {
	return fmt.Sprintf("<function %s at %p>", f.Name, f.Head())
}
