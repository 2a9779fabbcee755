package object

// gc_refs states. Any non-negative value is a working reference count that
// only exists while a collection pass is running.
const (
	RefsUntracked              = -2
	RefsReachable              = -3
	RefsTentativelyUnreachable = -4
)

// Header is the metadata every runtime value carries
type Header struct {
	refcnt int
	typ    *Type
	owner  Deallocator
	size   int
	self   Object

	// collector linkage; nil when untracked
	prev, next *Header
	list       *List
	gcRefs     int
	finalized  bool

	freed    bool
	weakrefs []WeakReference
}

// Head lets any struct embedding a Header satisfy Object
func (h *Header) Head() *Header {
	return h
}

// Init prepares the header of a freshly allocated object holding one reference.
// owner is called when the count drops to zero.
func Init(o Object, typ *Type, owner Deallocator, size int) {
	h := o.Head()
	*h = Header{
		refcnt: 1,
		typ:    typ,
		owner:  owner,
		size:   size,
		self:   o,
		gcRefs: RefsUntracked,
	}
	traceAlloc(h)
}

// Object returns the value this header belongs to
func (h *Header) Object() Object {
	return h.self
}

// Type returns the type descriptor
func (h *Header) Type() *Type {
	return h.typ
}

// RefCount returns the true reference count
func (h *Header) RefCount() int {
	return h.refcnt
}

// SetRefCount overwrites the reference count.
// Only deallocators use this, to hold a temporary reference across a finalizer.
func (h *Header) SetRefCount(n int) {
	h.refcnt = n
}

// Size returns the number of bytes accounted for this object
func (h *Header) Size() int {
	return h.size
}

// Owner returns the deallocator responsible for the object
func (h *Header) Owner() Deallocator {
	return h.owner
}

// Freed reports whether the object has been destroyed
func (h *Header) Freed() bool {
	return h.freed
}

// MarkFreed records destruction; the header must no longer be used
func (h *Header) MarkFreed() {
	h.freed = true
	h.weakrefs = nil
	traceFree(h)
}

// GCRefs returns the collector state or working count
func (h *Header) GCRefs() int {
	return h.gcRefs
}

// SetGCRefs sets the collector state or working count
func (h *Header) SetGCRefs(n int) {
	h.gcRefs = n
}

// DecGCRefs decrements the working count
func (h *Header) DecGCRefs() {
	h.gcRefs--
}

// IsTracked reports whether the object belongs to a collector list
func (h *Header) IsTracked() bool {
	return h.gcRefs != RefsUntracked
}

// List returns the collector list currently holding the object
func (h *Header) List() *List {
	return h.list
}

// Finalized reports whether the one-shot finalizer has run
func (h *Header) Finalized() bool {
	return h.finalized
}

// SetFinalized records that the one-shot finalizer has run
func (h *Header) SetFinalized() {
	h.finalized = true
}

// AddWeakRef registers a weak reference pointing at this object
func (h *Header) AddWeakRef(wr WeakReference) {
	h.weakrefs = append(h.weakrefs, wr)
}

// RemoveWeakRef unregisters a weak reference
func (h *Header) RemoveWeakRef(wr WeakReference) {
	for i, w := range h.weakrefs {
		if w == wr {
			copy(h.weakrefs[i:], h.weakrefs[i+1:])
			h.weakrefs[len(h.weakrefs)-1] = nil
			h.weakrefs = h.weakrefs[:len(h.weakrefs)-1]
			return
		}
	}
}

// WeakRefCount returns how many weak references point at the object
func (h *Header) WeakRefCount() int {
	return len(h.weakrefs)
}

// DetachWeakRefs empties the weak reference list and returns its old contents
func (h *Header) DetachWeakRefs() []WeakReference {
	wrs := h.weakrefs
	h.weakrefs = nil
	return wrs
}
