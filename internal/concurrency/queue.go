// File: internal/concurrency/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded FIFO backed by eapache/queue's power-of-two ring, which grows
// and shrinks without reallocating per element. Not safe for concurrent use;
// the owning context guards it with its own mutex.

package concurrency

import "github.com/eapache/queue"

// Queue is a typed FIFO.
type Queue[T any] struct {
	q *queue.Queue
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{q: queue.New()}
}

// Push appends v at the tail.
func (q *Queue[T]) Push(v T) {
	q.q.Add(v)
}

// PushFront puts vs back at the head, ahead of what is queued, keeping
// their order.
func (q *Queue[T]) PushFront(vs []T) {
	if len(vs) == 0 {
		return
	}
	n := q.q.Length()
	for _, v := range vs {
		q.q.Add(v)
	}
	for i := 0; i < n; i++ {
		q.q.Add(q.q.Remove())
	}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	return q.q.Length()
}

// DrainTo pops up to max elements (all when max <= 0) into dst.
func (q *Queue[T]) DrainTo(dst []T, max int) []T {
	for q.q.Length() > 0 && (max <= 0 || len(dst) < max) {
		dst = append(dst, q.q.Remove().(T))
	}
	return dst
}
