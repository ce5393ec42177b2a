// Package ringq implements a bounded lock-free MPMC ring.
//
// The ring is the sequence-numbered design where every cell carries the
// position it expects next, so producers and consumers never share a lock.
// Enqueue and Dequeue are allocation-free and finish in a bounded number of
// retries per competing goroutine, which makes them safe to call from the
// transfer completion context.
package ringq

import (
	"sync/atomic"
)

const cacheLine = 64

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// Ring is a fixed-capacity FIFO. The zero value is not usable; call New.
type Ring[T any] struct {
	head  atomic.Uint64
	_     [cacheLine - 8]byte
	tail  atomic.Uint64
	_     [cacheLine - 8]byte
	mask  uint64
	cells []cell[T]
}

// New allocates a ring holding at least size items. Capacity is rounded up to a power of two.
func New[T any](size int) *Ring[T] {
	n := uint64(2)
	for n < uint64(max(size, 2)) {
		n <<= 1
	}
	r := &Ring[T]{
		mask:  n - 1,
		cells: make([]cell[T], n),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

// Enqueue adds item; returns false if full.
func (r *Ring[T]) Enqueue(item T) bool {
	for {
		tail := r.tail.Load()
		c := &r.cells[tail&r.mask]
		seq := c.sequence.Load()

		switch dif := int64(seq) - int64(tail); {
		case dif == 0:
			if r.tail.CompareAndSwap(tail, tail+1) {
				c.data = item
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		}
		// another producer claimed the cell; reload tail
	}
}

// Dequeue removes and returns the oldest item; ok is false if empty.
func (r *Ring[T]) Dequeue() (item T, ok bool) {
	for {
		head := r.head.Load()
		c := &r.cells[head&r.mask]
		seq := c.sequence.Load()

		switch dif := int64(seq) - int64(head+1); {
		case dif == 0:
			if r.head.CompareAndSwap(head, head+1) {
				item = c.data
				var zero T
				c.data = zero
				c.sequence.Store(head + r.mask + 1)
				return item, true
			}
		case dif < 0:
			return item, false
		}
	}
}

// Len returns the number of items currently queued. It is a snapshot under concurrency.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.cells)
}
