// Package speech defines the provider-neutral recognition and synthesis
// interfaces a voice session talks to.
package speech

import (
	"context"
	"iter"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
)

// Transcript is one recognition hypothesis.
type Transcript struct {
	Text       string
	IsFinal    bool
	StartMs    *int
	EndMs      *int
	Confidence *float64
}

// Recognizer is a single streaming recognition connection. It is used for
// at most one utterance; after it closes, create a new one.
type Recognizer interface {
	// Feed queues PCM16 audio. It must not block on the network.
	Feed(pcm []byte) error

	// Recv yields transcripts until the recognizer closes. A planned or
	// requested close ends the sequence without an error.
	Recv(ctx context.Context) iter.Seq2[Transcript, error]

	// PlanClose marks the coming close as expected.
	PlanClose()

	// PlannedClose reports whether the close was expected.
	PlannedClose() bool

	// Close finishes the stream and waits for the provider's final result
	// for a bounded time.
	Close(ctx context.Context) error
}

// RecognizerFactory creates recognizers.
type RecognizerFactory interface {
	NewRecognizer() Recognizer
}

// RecognizerFactoryFunc is an adapter to allow the use of ordinary functions
// as RecognizerFactory.
type RecognizerFactoryFunc func() Recognizer

// NewRecognizer calls f.
func (f RecognizerFactoryFunc) NewRecognizer() Recognizer {
	return f()
}

// Synthesizer turns one piece of text into PCM16 audio in Format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) iter.Seq2[[]byte, error]
	Format() pcm.Format
}

// StreamingSynthesizer is a Synthesizer that can also keep one synthesis
// session open across several pieces of text.
type StreamingSynthesizer interface {
	Synthesizer
	OpenStream(ctx context.Context) (SynthesisStream, error)
}

// SynthesisStream is an open synthesis session.
type SynthesisStream interface {
	// Send queues text for synthesis.
	Send(ctx context.Context, text string) error

	// Finish tells the provider no more text follows.
	Finish(ctx context.Context) error

	// Recv yields audio until the provider finishes the session.
	Recv(ctx context.Context) iter.Seq2[[]byte, error]

	Close() error
}
