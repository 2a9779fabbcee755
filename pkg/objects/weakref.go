package objects

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"cyclegc/pkg/object"
)

var WeakRefType = &object.Type{Name: "weakref", GC: true}

// ErrNotWeakReferenceable is returned when the target type has no weak
// reference support
var ErrNotWeakReferenceable = errors.New("cannot create weak reference")

// WeakRef refers to an object without keeping it alive. When the referent
// dies the reference is cleared and the callback, if any, is called with the
// weak reference as its only argument.
type WeakRef struct {
	object.Header
	referent object.Object
	callback object.Object
}

// NewWeakRef creates a tracked weak reference to target. callback may be nil.
func (h *Heap) NewWeakRef(target, callback object.Object) (*WeakRef, error) {
	if t := target.Head().Type(); t == nil || !t.WeakRefs {
		return nil, errors.Wrapf(ErrNotWeakReferenceable, "to '%s' object", object.TypeName(target))
	}
	w := &WeakRef{referent: target}
	if err := h.gc.Alloc(w, WeakRefType, 0); err != nil {
		return nil, err
	}
	if callback != nil {
		w.callback = object.NewRef(callback)
	}
	target.Head().AddWeakRef(w)
	h.gc.Track(w)
	return w, nil
}

// Get returns the referent as a borrowed reference, or nil once it died
func (w *WeakRef) Get() object.Object {
	return w.referent
}

// ClearRef detaches the weak reference from its referent
func (w *WeakRef) ClearRef() {
	if w.referent == nil {
		return
	}
	w.referent.Head().RemoveWeakRef(w)
	w.referent = nil
}

func (w *WeakRef) Callback() object.Object {
	return w.callback
}

func (w *WeakRef) Traverse(visit object.VisitFunc) int {
	if w.callback != nil {
		return visit(w.callback)
	}
	return 0
}

func (w *WeakRef) Clear() error {
	w.ClearRef()
	cb := w.callback
	w.callback = nil
	object.XDecRef(cb)
	return nil
}

func (w *WeakRef) String() string {
	if w.referent == nil {
		return fmt.Sprintf("<weakref at %p; dead>", w.Head())
	}
	return fmt.Sprintf("<weakref at %p; to '%s' at %p>", w.Head(),
		object.TypeName(w.referent), w.referent.Head())
}
