// queue.go implements a bounded multi-producer/multi-consumer lock-free queue.

// Package lockfree provides the lock-free ready-queue used by the allocator.
package lockfree

import (
	"go.uber.org/atomic"
)

const cacheLinePad = 64

// Queue is a bounded MPMC queue (Dmitry Vyukov's sequence-numbered ring).
// Push and Pop never block: they report failure if the queue is full/empty.
type Queue[T any] struct {
	head  atomic.Uint64
	_     [cacheLinePad]byte
	tail  atomic.Uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell[T]
}

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// New returns a queue able to hold at least `capacity` items
// (the capacity is rounded up to a power of two).
func New[T any](capacity int) *Queue[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}

	q := &Queue[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// Cap returns the real capacity of the queue.
func (q *Queue[T]) Cap() int {
	return len(q.cells)
}

// Push adds the item; returns false if the queue is full.
func (q *Queue[T]) Push(item T) bool {
	for {
		tail := q.tail.Load()
		c := &q.cells[tail&q.mask]
		diff := int64(c.sequence.Load()) - int64(tail)
		switch {
		case diff == 0:
			if !q.tail.CompareAndSwap(tail, tail+1) {
				continue
			}
			c.data = item
			c.sequence.Store(tail + 1)
			return true
		case diff < 0:
			return false
		}
	}
}

// Pop removes the oldest item; returns false if the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	for {
		head := q.head.Load()
		c := &q.cells[head&q.mask]
		diff := int64(c.sequence.Load()) - int64(head+1)
		switch {
		case diff == 0:
			if !q.head.CompareAndSwap(head, head+1) {
				continue
			}
			item := c.data
			var zero T
			c.data = zero
			c.sequence.Store(head + q.mask + 1)
			return item, true
		case diff < 0:
			var zero T
			return zero, false
		}
	}
}

// Drain pops everything currently in the queue.
func (q *Queue[T]) Drain() []T {
	var result []T
	for {
		item, ok := q.Pop()
		if !ok {
			return result
		}
		result = append(result, item)
	}
}

// Len returns an approximate number of queued items.
func (q *Queue[T]) Len() int {
	n := int64(q.tail.Load()) - int64(q.head.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}
