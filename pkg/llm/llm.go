// Package llm streams assistant replies from a language model.
//
// A TokenSource takes the conversation so far and yields text deltas:
//
//	for delta, err := range src.Stream(ctx, history) {
//	    if err != nil {
//	        return err
//	    }
//	    chunker.Push(delta)
//	}
//
// Providers: OpenAI-compatible chat completions, Gemini, and Echo, a
// network-free provider that repeats the last user turn.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) String() string {
	return string(r)
}

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role" msgpack:"role"`
	Content string `json:"content" msgpack:"content"`
}

// TokenSource streams a reply to a conversation.
type TokenSource interface {
	// Stream yields text deltas. The sequence ends without error when the
	// model finishes, and yields ctx.Err() when ctx is cancelled.
	Stream(ctx context.Context, history []Message) iter.Seq2[string, error]
}

// ErrEmptyHistory is returned by providers that need at least one message.
var ErrEmptyHistory = errors.New("llm: empty history")

// Window returns the last n messages of history.
func Window(history []Message, n int) []Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// LastUser returns the content of the most recent user message.
func LastUser(history []Message) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content, true
		}
	}
	return "", false
}

func wrapErr(provider string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("llm: %s: %w", provider, err)
}
