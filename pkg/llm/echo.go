package llm

import (
	"context"
	"fmt"
	"iter"
	"time"
)

var _ TokenSource = (*Echo)(nil)

// DefaultEchoDelay is the pause between runes yielded by Echo.
const DefaultEchoDelay = 20 * time.Millisecond

// Echo is a demo provider that answers by repeating the last user message,
// one rune at a time.
type Echo struct {
	// Delay between runes. Zero means DefaultEchoDelay; negative means none.
	Delay time.Duration
}

// EchoReply returns the reply Echo produces for the given user text.
func EchoReply(last string) string {
	return fmt.Sprintf("好的，我听到了。你刚才说的是：%s。", last)
}

// Stream implements TokenSource.
func (e *Echo) Stream(ctx context.Context, history []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		last := ""
		if n := len(history); n > 0 {
			last = history[n-1].Content
		}
		delay := e.Delay
		if delay == 0 {
			delay = DefaultEchoDelay
		}

		var timer *time.Timer
		if delay > 0 {
			timer = time.NewTimer(delay)
			defer timer.Stop()
		}
		for _, r := range EchoReply(last) {
			if timer != nil {
				timer.Reset(delay)
				select {
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(string(r), nil) {
				return
			}
		}
	}
}
