// Package buffer provides the goroutine-safe queues the voice pipeline uses
// to hand data between tasks.
//
//   - Queue: an unbounded FIFO with a blocking, cancellable Next. Push never
//     blocks. Every cross-task handoff in a session goes through a Queue.
//
//   - Ring: a fixed-capacity window that overwrites the oldest elements when
//     full. Used to keep a short pre-roll of audio before speech is detected.
//
// Both types are safe for concurrent use by multiple producers and consumers.
// A drained, closed Queue reports iterator.Done, the same sentinel the
// Google API iterators use.
//
// Example usage:
//
//	q := buffer.NewQueue[[]byte](16)
//	go func() {
//		defer q.Close()
//		q.Push(frame)
//	}()
//	for {
//		v, err := q.Next(ctx)
//		if err == iterator.Done {
//			break
//		}
//		...
//	}
package buffer
