package object

import "cyclegc/pkg/fatal"

// List is an intrusive doubly-linked list of object headers with a sentinel.
// An object is linked into at most one List at a time. The zero value is an
// empty list ready to use. Lists must not be copied once used.
type List struct {
	root Header
	len  int
}

func (l *List) lazyInit() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

// Len returns the number of linked objects
func (l *List) Len() int {
	return l.len
}

// Empty reports whether the list has no objects
func (l *List) Empty() bool {
	return l.len == 0
}

// Front returns the first header or nil
func (l *List) Front() *Header {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// Next returns the header following h in l, or nil at the end
func (l *List) Next(h *Header) *Header {
	if n := h.next; n != &l.root {
		return n
	}
	return nil
}

// Append links h at the tail of l. h must not belong to any list.
func (l *List) Append(h *Header) {
	if h.list != nil {
		fatal.Errorf("object %s is already linked", Repr(h.self))
	}
	l.lazyInit()
	last := l.root.prev
	h.prev = last
	h.next = &l.root
	last.next = h
	l.root.prev = h
	h.list = l
	l.len++
}

// Unlink removes h from whichever list holds it
func Unlink(h *Header) {
	l := h.list
	if l == nil {
		return
	}
	h.prev.next = h.next
	h.next.prev = h.prev
	h.prev = nil
	h.next = nil
	h.list = nil
	l.len--
}

// Move unlinks h from its current list and appends it to l
func (l *List) Move(h *Header) {
	Unlink(h)
	l.Append(h)
}

// Merge moves every object of from to the tail of l, preserving order
func (l *List) Merge(from *List) {
	if from == l || from.len == 0 {
		return
	}
	l.lazyInit()
	for h := from.root.next; h != &from.root; h = h.next {
		h.list = l
	}
	first := from.root.next
	last := from.root.prev
	tail := l.root.prev

	tail.next = first
	first.prev = tail
	last.next = &l.root
	l.root.prev = last
	l.len += from.len

	from.root.next = &from.root
	from.root.prev = &from.root
	from.len = 0
}

// Objects returns the linked objects in order
func (l *List) Objects() []Object {
	out := make([]Object, 0, l.len)
	for h := l.Front(); h != nil; h = l.Next(h) {
		out = append(out, h.self)
	}
	return out
}
