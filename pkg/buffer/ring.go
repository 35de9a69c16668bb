package buffer

import "sync"

// Ring is a fixed-capacity window over the most recently written elements.
// When full, writes overwrite the oldest data. It never blocks.
type Ring[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
}

// NewRing creates a Ring holding at most size elements.
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{buf: make([]T, size)}
}

// Write appends p, dropping the oldest elements if the window overflows.
// Only the last Cap() elements of p are kept when p itself is larger.
func (r *Ring[T]) Write(p []T) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(p)
	size := int64(len(r.buf))
	if int64(len(p)) > size {
		p = p[int64(len(p))-size:]
	}
	for _, v := range p {
		r.buf[r.tail%size] = v
		r.tail++
	}
	if r.tail-r.head > size {
		r.head = r.tail - size
	}
	return n, nil
}

// Snapshot returns a copy of the buffered elements, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := int64(len(r.buf))
	out := make([]T, 0, r.tail-r.head)
	for i := r.head; i < r.tail; i++ {
		out = append(out, r.buf[i%size])
	}
	return out
}

// Drain returns the buffered elements, oldest first, and empties the ring.
func (r *Ring[T]) Drain() []T {
	out := r.Snapshot()
	r.Reset()
	return out
}

// Reset discards all buffered elements.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.tail = 0
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.tail - r.head)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
