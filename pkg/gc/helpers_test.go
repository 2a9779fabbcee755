package gc

import (
	"bytes"
	"fmt"
	"log"
	"testing"

	"github.com/cockroachdb/errors"

	"cyclegc/pkg/object"
)

var (
	nodeType   = &object.Type{Name: "node", GC: true, WeakRefs: true}
	legacyType = &object.Type{Name: "legacy", GC: true, Finalizer: object.FinalizerLegacy}
	finType    = &object.Type{Name: "fin", GC: true, WeakRefs: true, Finalizer: object.FinalizerOneShot}
	failType   = &object.Type{Name: "failing", GC: true}
	tupleType  = &object.Type{Name: "tuple", GC: true, Untrack: object.UntrackDuringScan}
	dictType   = &object.Type{Name: "dict", GC: true, Untrack: object.UntrackOnFullCollection}
	weakType   = &object.Type{Name: "weakref", GC: true}
	atomType   = &object.Type{Name: "int", Size: 8}
	funcType   = &object.Type{Name: "function"}
)

// node is a container holding strong references
type node struct {
	object.Header
	name string
	refs []object.Object

	clears   int // Clear calls
	released int // times outgoing references were actually dropped
}

func (n *node) String() string {
	return "<node " + n.name + ">"
}

func (n *node) Traverse(visit object.VisitFunc) int {
	for _, r := range n.refs {
		if r == nil {
			continue
		}
		if v := visit(r); v != 0 {
			return v
		}
	}
	return 0
}

func (n *node) drop() {
	refs := n.refs
	n.refs = nil
	if len(refs) > 0 {
		n.released++
	}
	for _, r := range refs {
		object.XDecRef(r)
	}
}

func (n *node) Clear() error {
	n.clears++
	n.drop()
	return nil
}

func (n *node) Destroy() {
	n.drop()
}

type legacyNode struct {
	node
	dels int
}

func (n *legacyNode) Del() error {
	n.dels++
	return nil
}

type finNode struct {
	node
	finalized int
	sink      *[]object.Object
	onFinal   func()
}

func (n *finNode) Finalize() error {
	n.finalized++
	if n.onFinal != nil {
		n.onFinal()
	}
	if n.sink != nil {
		*n.sink = append(*n.sink, object.NewRef(n))
	}
	return nil
}

type failingNode struct {
	node
}

func (n *failingNode) Clear() error {
	n.node.Clear()
	return errors.New("clear failed")
}

type tupleNode struct {
	node
}

func (t *tupleNode) MaybeUntrack() bool {
	for _, r := range t.refs {
		if object.IsGC(r) && r.Head().IsTracked() {
			return false
		}
	}
	return true
}

type dictNode struct {
	tupleNode
}

type atom struct {
	object.Header
	v int
}

type weakref struct {
	object.Header
	referent object.Object
	callback object.Object
}

func (w *weakref) ClearRef() {
	if w.referent != nil {
		w.referent.Head().RemoveWeakRef(w)
		w.referent = nil
	}
}

func (w *weakref) Callback() object.Object {
	return w.callback
}

func (w *weakref) Traverse(visit object.VisitFunc) int {
	if w.callback != nil {
		return visit(w.callback)
	}
	return 0
}

func (w *weakref) Destroy() {
	w.ClearRef()
	cb := w.callback
	w.callback = nil
	object.XDecRef(cb)
}

type callback struct {
	object.Header
	fn func(args ...object.Object) error
}

func (c *callback) Call(args ...object.Object) error {
	return c.fn(args...)
}

func newState(t *testing.T) (*State, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(Config{Logger: log.New(&buf, "", 0)}), &buf
}

func mustAlloc(t *testing.T, s *State, o object.Object, typ *object.Type) {
	t.Helper()
	if err := s.Alloc(o, typ, 0); err != nil {
		t.Fatalf("alloc %s: %v", typ.Name, err)
	}
}

func newNode(t *testing.T, s *State, name string) *node {
	t.Helper()
	n := &node{name: name}
	mustAlloc(t, s, n, nodeType)
	s.Track(n)
	return n
}

func newAtom(t *testing.T, s *State, v int) *atom {
	t.Helper()
	a := &atom{v: v}
	mustAlloc(t, s, a, atomType)
	return a
}

func newCallback(t *testing.T, s *State, fn func(args ...object.Object) error) *callback {
	t.Helper()
	c := &callback{fn: fn}
	mustAlloc(t, s, c, funcType)
	return c
}

// newWeak creates a tracked weak reference to target. cb may be nil.
func newWeak(t *testing.T, s *State, target object.Object, cb object.Object) *weakref {
	t.Helper()
	w := &weakref{referent: target}
	mustAlloc(t, s, w, weakType)
	if cb != nil {
		w.callback = object.NewRef(cb)
	}
	target.Head().AddWeakRef(w)
	s.Track(w)
	return w
}

// link makes from hold a new reference to to
func link(from *node, to object.Object) {
	from.refs = append(from.refs, object.NewRef(to))
}

// cycle builds n nodes referencing each other in a ring and drops the
// creating references
func cycle(t *testing.T, s *State, n int) []*node {
	t.Helper()
	nodes := make([]*node, n)
	for i := range nodes {
		nodes[i] = newNode(t, s, fmt.Sprintf("n%d", i))
	}
	for i := range nodes {
		link(nodes[i], nodes[(i+1)%n])
	}
	for _, nd := range nodes {
		object.DecRef(nd)
	}
	return nodes
}
