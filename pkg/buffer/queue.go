package buffer

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/api/iterator"
)

// ErrClosed is returned by Push after the queue has been closed.
var ErrClosed = errors.New("buffer: push to closed queue")

// Queue is an unbounded multi-producer FIFO queue.
//
// Push never blocks. Next blocks until an item is available, the queue is
// closed and drained, or the context is done. Each item is delivered to
// exactly one Next caller, in push order.
//
// Clear discards buffered items but leaves suspended Next callers waiting;
// cancel their context to release them.
type Queue[T any] struct {
	notify chan struct{}

	mu     sync.Mutex
	items  []T
	closed bool
}

// NewQueue creates a Queue with an initial capacity hint of n items.
func NewQueue[T any](n int) *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		items:  make([]T, 0, n),
	}
}

// Push appends v to the queue. It returns ErrClosed after Close.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.signal()
	return nil
}

// signal wakes one waiter. Must be called with q.mu held and the queue open.
func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next removes and returns the oldest item.
//
// It returns iterator.Done once the queue is closed and empty, and ctx.Err()
// if the context is done first.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) > 0 && !q.closed {
				// Another waiter may have lost the wakeup to us.
				q.signal()
			}
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, iterator.Done
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryNext returns the oldest item without blocking.
func (q *Queue[T]) TryNext() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Clear discards all buffered items and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting pushes. Buffered items are still delivered; after
// that every Next returns iterator.Done. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
