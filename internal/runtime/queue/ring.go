// Package queue wraps github.com/eapache/queue with a typed FIFO that the
// pipeline stages use for their bounded buffers. A Ring is not safe for
// concurrent use; each stage guards its own.
package queue

import eq "github.com/eapache/queue"

// Ring is a typed FIFO backed by a growable ring buffer.
type Ring[T any] struct {
	q *eq.Queue
}

func New[T any]() *Ring[T] {
	return &Ring[T]{q: eq.New()}
}

func (r *Ring[T]) Len() int {
	return r.q.Length()
}

// Push appends items at the tail in order.
func (r *Ring[T]) Push(items ...T) {
	for _, item := range items {
		r.q.Add(item)
	}
}

// PushFront reinserts items at the head, keeping their relative order, so the
// next PopN returns them first.
func (r *Ring[T]) PushFront(items []T) {
	if len(items) == 0 {
		return
	}
	rest := r.Drain()
	r.Push(items...)
	r.Push(rest...)
}

// PopN removes and returns up to n items from the head.
func (r *Ring[T]) PopN(n int) []T {
	if n > r.q.Length() {
		n = r.q.Length()
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = r.q.Remove().(T)
	}
	return out
}

// Drain removes and returns every item.
func (r *Ring[T]) Drain() []T {
	return r.PopN(r.q.Length())
}

// DropFront discards up to n items from the head and reports how many went.
func (r *Ring[T]) DropFront(n int) int {
	dropped := 0
	for dropped < n && r.q.Length() > 0 {
		r.q.Remove()
		dropped++
	}
	return dropped
}

// TruncateBack keeps the first keep items and discards the rest.
func (r *Ring[T]) TruncateBack(keep int) int {
	if keep < 0 {
		keep = 0
	}
	extra := r.q.Length() - keep
	if extra <= 0 {
		return 0
	}
	kept := r.PopN(keep)
	r.q = eq.New()
	r.Push(kept...)
	return extra
}

// Snapshot copies the current contents, head first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.q.Length())
	for i := range out {
		out[i] = r.q.Get(i).(T)
	}
	return out
}
