package object

import "fmt"

// Object model contract
//
// Every runtime value embeds a Header. Cycle-eligible types additionally
// implement Traverser so the collector can walk their outgoing references,
// and usually Clearer so it can break a cycle. Finalization comes in two
// mutually exclusive flavors selected by the type descriptor:
//
//   - one-shot: Finalize runs at most once per object, before destruction,
//     and may resurrect the object
//   - legacy:   Del runs on every destruction; an unreachable cycle containing
//     such an object is never destroyed and is reported as uncollectable

// Object is any value carrying a Header
type Object interface {
	Head() *Header
}

// VisitFunc is called for every outgoing reference during a traversal.
// A non-zero return aborts the traversal and is passed back to the caller.
type VisitFunc func(Object) int

// Traverser visits every object directly referenced by the receiver
type Traverser interface {
	Traverse(visit VisitFunc) int
}

// Clearer drops every outgoing reference held by the receiver
type Clearer interface {
	Clear() error
}

// Finalizer is the one-shot pre-destruction hook
type Finalizer interface {
	Finalize() error
}

// LegacyFinalizer is the older destruction hook that forces uncollectable cycles
type LegacyFinalizer interface {
	Del() error
}

// Callable objects can be invoked by the runtime (weak reference callbacks)
type Callable interface {
	Object
	Call(args ...Object) error
}

// WeakReference is a weak reference object as seen by the collector
type WeakReference interface {
	Object
	// ClearRef detaches the reference from its referent
	ClearRef()
	// Callback returns the callable invoked after the referent dies, or nil
	Callback() Object
}

// MaybeUntracker reports whether a container holds nothing the collector
// needs to see, in which case it can be untracked
type MaybeUntracker interface {
	MaybeUntrack() bool
}

// Destructor drops outgoing references when the object is deallocated.
// Types without it are torn down through Clearer.
type Destructor interface {
	Destroy()
}

// Recycler offers a destroyed object to its type's free list.
// Returning true means the cache kept the object and its memory.
type Recycler interface {
	Recycle() bool
}

// Deallocator destroys an object whose reference count dropped to zero
type Deallocator interface {
	Dealloc(o Object)
}

// FinalizerKind selects which destruction hook a type provides
type FinalizerKind int

const (
	FinalizerNone FinalizerKind = iota
	FinalizerOneShot
	FinalizerLegacy
)

func (k FinalizerKind) String() string {
	switch k {
	case FinalizerOneShot:
		return "one-shot"
	case FinalizerLegacy:
		return "legacy"
	default:
		return "none"
	}
}

// UntrackPolicy describes when a container may be opportunistically untracked
type UntrackPolicy int

const (
	UntrackNever UntrackPolicy = iota
	UntrackDuringScan
	UntrackOnFullCollection
)

// Type is a type descriptor
type Type struct {
	Name      string
	Size      int // payload bytes accounted per instance
	GC        bool
	WeakRefs  bool
	Finalizer FinalizerKind
	Untrack   UntrackPolicy
}

func (t *Type) String() string {
	return t.Name
}

// IsGC reports whether o is cycle-eligible
func IsGC(o Object) bool {
	t := o.Head().typ
	return t != nil && t.GC
}

// Traverse walks o's references if its type supports it
func Traverse(o Object, visit VisitFunc) int {
	if tr, ok := o.(Traverser); ok {
		return tr.Traverse(visit)
	}
	return 0
}

// HasLegacyFinalizer reports whether o must never be destroyed as part of a cycle
func HasLegacyFinalizer(o Object) bool {
	t := o.Head().typ
	if t == nil || t.Finalizer != FinalizerLegacy {
		return false
	}
	_, ok := o.(LegacyFinalizer)
	return ok
}

// HasFinalizer reports whether o declares a one-shot finalizer
func HasFinalizer(o Object) bool {
	t := o.Head().typ
	if t == nil || t.Finalizer != FinalizerOneShot {
		return false
	}
	_, ok := o.(Finalizer)
	return ok
}

// TypeName returns the name of o's type
func TypeName(o Object) string {
	if t := o.Head().typ; t != nil {
		return t.Name
	}
	return "?"
}

// Repr formats o the way diagnostics print it
func Repr(o Object) string {
	if s, ok := o.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("<%s %p>", TypeName(o), o.Head())
}
