// Package queue implements an intrusive, doubly linked circular queue.
//
// A Node is embedded in the record it links (a task, a waiter) and carries a
// back reference to that record in Value. The queue never owns the memory of
// its elements: removing a node only unlinks it.
package queue

// Node is one link of a circular queue. The zero value is an unlinked node.
type Node[T any] struct {
	next, prev *Node[T]
	Value      T
}

// NewNode returns an unlinked node holding v.
func NewNode[T any](v T) *Node[T] {
	return &Node[T]{Value: v}
}

// Linked reports whether n currently belongs to some queue.
func (n *Node[T]) Linked() bool { return n != nil && n.next != nil }

// Queue is a circular list of nodes. The zero value is an empty queue.
type Queue[T any] struct {
	head *Node[T]
}

// Append inserts n at the tail of the queue.
func (q *Queue[T]) Append(n *Node[T]) error {
	if q == nil {
		return ErrNullQueue
	}
	if n == nil {
		return ErrNullElement
	}
	if q.Contains(n) || n.Linked() {
		return ErrAlreadyQueued
	}

	if q.head == nil {
		n.next, n.prev = n, n
		q.head = n
		return nil
	}

	tail := q.head.prev
	n.prev, n.next = tail, q.head
	tail.next = n
	q.head.prev = n
	return nil
}

// Remove detaches n from the queue and returns it.
func (q *Queue[T]) Remove(n *Node[T]) (*Node[T], error) {
	if q == nil {
		return nil, ErrNullQueue
	}
	if q.head == nil {
		return nil, ErrEmptyQueue
	}
	if n == nil {
		return nil, ErrNullElement
	}
	if !q.Contains(n) {
		return nil, ErrNotFound
	}

	if n.next == n {
		q.head = nil
	} else {
		n.prev.next = n.next
		n.next.prev = n.prev
		if q.head == n {
			q.head = n.next
		}
	}
	n.next, n.prev = nil, nil
	return n, nil
}

// Contains reports whether n is linked into this queue, by identity.
func (q *Queue[T]) Contains(n *Node[T]) bool {
	if q == nil || q.head == nil || n == nil {
		return false
	}
	cur := q.head
	for {
		if cur == n {
			return true
		}
		cur = cur.next
		if cur == q.head {
			return false
		}
	}
}

// Front returns the head node, or nil when the queue is empty.
func (q *Queue[T]) Front() *Node[T] {
	if q == nil {
		return nil
	}
	return q.head
}

func (q *Queue[T]) Empty() bool { return q == nil || q.head == nil }

// Size counts the nodes by walking the ring once.
func (q *Queue[T]) Size() int {
	if q.Empty() {
		return 0
	}
	size := 1
	for cur := q.head.next; cur != q.head; cur = cur.next {
		size++
	}
	return size
}

// ForEach calls visit once per element in queue order, starting at the head.
// visit must not modify the queue.
func (q *Queue[T]) ForEach(visit func(T)) {
	if q.Empty() {
		return
	}
	cur := q.head
	for {
		visit(cur.Value)
		cur = cur.next
		if cur == q.head {
			return
		}
	}
}

// Values returns the elements in queue order.
func (q *Queue[T]) Values() []T {
	values := make([]T, 0, q.Size())
	q.ForEach(func(v T) { values = append(values, v) })
	return values
}
