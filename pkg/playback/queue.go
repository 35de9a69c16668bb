// Package playback queues synthesized audio on its way to the client and
// tells the session when a turn's audio has been fully handed off.
package playback

import (
	"context"
	"sync"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/buffer"
)

// Frame is one chunk of synthesized PCM16 audio.
type Frame struct {
	// Epoch is the assistant run that produced the frame.
	Epoch uint64
	Data  []byte
}

type entry struct {
	gen   uint64
	frame Frame
}

// Queue carries frames from synthesis to the outbound transport.
//
// Put is a no-op while the queue is stopped. StopAndClear discards queued
// frames, so none of them is ever returned by Get, and releases every
// WaitForDrain caller.
type Queue struct {
	frames *buffer.Queue[entry]

	mu      sync.Mutex
	gen     uint64
	queued  int
	stopped bool
	// drained is closed whenever queued is zero.
	drained chan struct{}
}

// New creates an empty, running Queue.
func New() *Queue {
	drained := make(chan struct{})
	close(drained)
	return &Queue{
		frames:  buffer.NewQueue[entry](64),
		drained: drained,
	}
}

// Put enqueues f. It reports false if the queue is stopped or closed.
func (q *Queue) Put(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	if err := q.frames.Push(entry{gen: q.gen, frame: f}); err != nil {
		return false
	}
	if q.queued == 0 {
		q.drained = make(chan struct{})
	}
	q.queued++
	return true
}

// Get blocks until the next frame is available or ctx is done.
// It returns iterator.Done after Close.
func (q *Queue) Get(ctx context.Context) (Frame, error) {
	for {
		e, err := q.frames.Next(ctx)
		if err != nil {
			return Frame{}, err
		}
		q.mu.Lock()
		if e.gen != q.gen {
			// Queued before the last StopAndClear; already uncounted.
			q.mu.Unlock()
			continue
		}
		q.queued--
		if q.queued == 0 {
			close(q.drained)
		}
		q.mu.Unlock()
		return e.frame, nil
	}
}

// WaitForDrain returns once every queued frame has been taken by Get or the
// queue has been cleared. It returns immediately if nothing is queued.
func (q *Queue) WaitForDrain(ctx context.Context) error {
	q.mu.Lock()
	ch := q.drained
	q.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAndClear stops accepting frames, drops everything queued and releases
// drain waiters.
func (q *Queue) StopAndClear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.gen++
	n := q.frames.Clear()
	q.releaseLocked()
	return n
}

// Resume accepts frames again after StopAndClear.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = false
}

// Stopped reports whether the queue is stopped.
func (q *Queue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of frames waiting for Get.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// Close stops the queue for good. Pending Get calls return iterator.Done.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.gen++
	q.frames.Clear()
	q.frames.Close()
	q.releaseLocked()
}

func (q *Queue) releaseLocked() {
	if q.queued > 0 {
		q.queued = 0
		close(q.drained)
	}
}
