package objects

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"cyclegc/pkg/object"
)

// ErrConflictingFinalizers is returned for a class declaring both hooks
var ErrConflictingFinalizers = errors.New("class cannot define both a finalizer and a legacy finalizer")

// ClassOptions selects the optional behavior of a user class
type ClassOptions struct {
	// Finalize runs at most once, before the instance is destroyed
	Finalize func(*Instance) error
	// Del runs every time the instance is destroyed. A cycle holding an
	// instance with Del is never collected.
	Del      func(*Instance) error
	WeakRefs bool
}

// Class describes user instances. Each class has its own type descriptor.
type Class struct {
	Name string
	typ  *object.Type
	opts ClassOptions
}

// NewClass creates a user class
func NewClass(name string, opts ClassOptions) (*Class, error) {
	typ := &object.Type{Name: name, Size: 16, GC: true, WeakRefs: opts.WeakRefs}
	switch {
	case opts.Finalize != nil && opts.Del != nil:
		return nil, errors.Wrapf(ErrConflictingFinalizers, "class %s", name)
	case opts.Finalize != nil:
		typ.Finalizer = object.FinalizerOneShot
	case opts.Del != nil:
		typ.Finalizer = object.FinalizerLegacy
	}
	return &Class{Name: name, typ: typ, opts: opts}, nil
}

// Type returns the class's type descriptor
func (c *Class) Type() *object.Type {
	return c.typ
}

// Instance is an object of a user class with named attributes
type Instance struct {
	object.Header
	class *Class
	attrs map[string]object.Object
}

// NewInstance allocates a tracked instance of c
func (h *Heap) NewInstance(c *Class) (*Instance, error) {
	in := &Instance{class: c, attrs: make(map[string]object.Object)}
	if err := h.gc.Alloc(in, c.typ, 0); err != nil {
		return nil, err
	}
	h.gc.Track(in)
	return in, nil
}

// Class returns the instance's class
func (in *Instance) Class() *Class {
	return in.class
}

// SetAttr stores a new reference to v
func (in *Instance) SetAttr(name string, v object.Object) {
	old := in.attrs[name]
	in.attrs[name] = object.NewRef(v)
	object.XDecRef(old)
}

// Attr returns a borrowed reference, or nil
func (in *Instance) Attr(name string) object.Object {
	return in.attrs[name]
}

// DelAttr drops an attribute
func (in *Instance) DelAttr(name string) bool {
	old, ok := in.attrs[name]
	if !ok {
		return false
	}
	delete(in.attrs, name)
	object.DecRef(old)
	return true
}

func (in *Instance) Traverse(visit object.VisitFunc) int {
	for _, v := range in.attrs {
		if r := visit(v); r != 0 {
			return r
		}
	}
	return 0
}

func (in *Instance) Clear() error {
	attrs := in.attrs
	in.attrs = make(map[string]object.Object)
	for _, v := range attrs {
		object.DecRef(v)
	}
	return nil
}

func (in *Instance) Finalize() error {
	if in.class.opts.Finalize == nil {
		return nil
	}
	return in.class.opts.Finalize(in)
}

func (in *Instance) Del() error {
	if in.class.opts.Del == nil {
		return nil
	}
	return in.class.opts.Del(in)
}

func (in *Instance) String() string {
	return fmt.Sprintf("<%s object at %p>", in.class.Name, in.Head())
}
