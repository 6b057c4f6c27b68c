// File: internal/list/list.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Intrusive doubly linked list with ownership tracking. The node is embedded
// in the object it links, and records the list currently holding it, so an
// object can be moved between lists in O(1) and double insertion is caught.

package list

import "github.com/momentics/hioload-ev/api"

// Node links a value of type T into at most one List at a time.
type Node[T any] struct {
	next, prev *Node[T]
	owner      *List[T]
	Value      T
}

// Linked reports whether the node is currently held by a list.
func (n *Node[T]) Linked() bool { return n.owner != nil }

// Owner returns the list holding the node, or nil.
func (n *Node[T]) Owner() *List[T] { return n.owner }

// Next returns the following node in the owning list, or nil at the tail.
func (n *Node[T]) Next() *Node[T] {
	if n.owner == nil || n.next == &n.owner.root {
		return nil
	}
	return n.next
}

// List is a circular list with a sentinel root. The zero value is ready to use.
type List[T any] struct {
	root Node[T]
	len  int
}

func (l *List[T]) lazyInit() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

// Len returns the number of linked nodes.
func (l *List[T]) Len() int { return l.len }

// Empty reports whether the list holds no nodes.
func (l *List[T]) Empty() bool { return l.len == 0 }

// Front returns the head node, or nil.
func (l *List[T]) Front() *Node[T] {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// PushBack appends n. Linking a node that is already owned by any list is a
// contract violation.
func (l *List[T]) PushBack(n *Node[T]) {
	if n.owner != nil {
		api.Violate("list: node already linked")
	}
	l.lazyInit()
	at := l.root.prev
	n.prev = at
	n.next = &l.root
	at.next = n
	l.root.prev = n
	n.owner = l
	l.len++
}

// Remove unlinks n from l. It returns false when n is not owned by l.
func (l *List[T]) Remove(n *Node[T]) bool {
	if n.owner != l {
		return false
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next, n.prev, n.owner = nil, nil, nil
	l.len--
	return true
}

// PopFront unlinks and returns the head node, or nil.
func (l *List[T]) PopFront() *Node[T] {
	n := l.Front()
	if n != nil {
		l.Remove(n)
	}
	return n
}

// MoveTo relinks n from whichever list holds it to the tail of dst.
func MoveTo[T any](dst *List[T], n *Node[T]) {
	if n.owner == dst {
		return
	}
	if n.owner != nil {
		n.owner.Remove(n)
	}
	dst.PushBack(n)
}

// Each visits the nodes linked at the time of the call, in order, stopping
// early when fn returns true. Nodes may be unlinked or relinked by fn without
// affecting which nodes are visited.
func (l *List[T]) Each(fn func(n *Node[T]) bool) bool {
	if l.len == 0 {
		return false
	}
	snapshot := make([]*Node[T], 0, l.len)
	for n := l.root.next; n != &l.root; n = n.next {
		snapshot = append(snapshot, n)
	}
	for _, n := range snapshot {
		if fn(n) {
			return true
		}
	}
	return false
}
