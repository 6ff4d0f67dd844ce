// Package queue implements the three bounded MPSC message families
// (cmd_queue, op_queue, writer_queue) as buffered Go channels with a
// non-blocking enqueue, per the Design Notes redesign flag: "Ad-hoc
// queues with libuv worker threads -> bounded MPSC channels plus one OS
// thread per stage."
package queue

import (
	"fmt"

	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/route"
)

// Ring is a bounded multi-producer, single-consumer channel of T.
type Ring[T any] struct {
	ch chan T
}

// NewRing builds a ring with a power-of-two capacity.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if !route.IsPowerOfTwo(capacity) {
		return nil, fmt.Errorf("queue: capacity %d must be a power of two", capacity)
	}
	return &Ring[T]{ch: make(chan T, capacity)}, nil
}

// TryEnqueue attempts a non-blocking send, returning errs.ErrFull if the
// ring is at capacity.
func (r *Ring[T]) TryEnqueue(v T) error {
	select {
	case r.ch <- v:
		return nil
	default:
		return errs.ErrFull
	}
}

// Dequeue blocks until a value is available or done is closed, in which
// case ok is false.
func (r *Ring[T]) Dequeue(done <-chan struct{}) (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		return v, ok
	case <-done:
		var zero T
		return zero, false
	}
}

// TryDequeue performs a non-blocking receive.
func (r *Ring[T]) TryDequeue() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of currently queued items (best-effort, for
// metrics only).
func (r *Ring[T]) Len() int { return len(r.ch) }

// Close closes the underlying channel; producers must not enqueue after
// Close.
func (r *Ring[T]) Close() { close(r.ch) }
