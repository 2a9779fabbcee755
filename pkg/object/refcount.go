package object

import "cyclegc/pkg/fatal"

// IncRef adds a reference to o
func IncRef(o Object) {
	h := o.Head()
	if h.freed {
		fatal.Errorf("incref of freed object %s", Repr(o))
	}
	h.refcnt++
	traceIncRef(h)
}

// DecRef drops a reference to o, destroying it when none remain
func DecRef(o Object) {
	h := o.Head()
	if h.refcnt <= 0 {
		fatal.Errorf("decref of object %s with refcount %d", Repr(o), h.refcnt)
	}
	h.refcnt--
	traceDecRef(h)
	if h.refcnt != 0 {
		return
	}
	if h.owner != nil {
		h.owner.Dealloc(o)
		return
	}
	h.MarkFreed()
}

// XDecRef is DecRef tolerating nil
func XDecRef(o Object) {
	if o != nil {
		DecRef(o)
	}
}

// NewRef returns o with a new reference
func NewRef(o Object) Object {
	IncRef(o)
	return o
}

// RefCount returns o's reference count
func RefCount(o Object) int {
	return o.Head().refcnt
}
