package voicechat

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/resampler"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/buffer"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/playback"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/speech"
)

// speaker voices the chunks of one assistant run.
type speaker interface {
	// say queues text. It does not wait for the audio.
	say(ctx context.Context, text string) error
	// finish waits until every queued chunk has been synthesized and its
	// audio put on the playback queue.
	finish(ctx context.Context) error
	close()
}

// frameSink resamples synthesized audio and tags it with the run that
// produced it.
type frameSink struct {
	run      uint64
	queue    *playback.Queue
	resample *resampler.Stream
	lat      *turnLatency
}

func (f *frameSink) put(audio []byte) error {
	out, err := f.resample.Process(audio)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}
	f.lat.mark(markFirstAudio)
	f.queue.Put(playback.Frame{Epoch: f.run, Data: out})
	return nil
}

// newSpeaker picks a streaming speaker when the synthesizer supports it.
func (s *Session) newSpeaker(sink *frameSink) speaker {
	if ss, ok := s.deps.Synthesizer.(speech.StreamingSynthesizer); ok {
		return &streamSpeaker{synth: ss, sink: sink, done: make(chan struct{})}
	}
	c := &chunkSpeaker{
		synth: s.deps.Synthesizer,
		sink:  sink,
		texts: buffer.NewQueue[string](8),
		done:  make(chan struct{}),
	}
	return c
}

// streamSpeaker sends every chunk of a run over one synthesis stream. The
// stream is opened by the first chunk.
type streamSpeaker struct {
	synth speech.StreamingSynthesizer
	sink  *frameSink

	stream  speech.SynthesisStream
	openErr error
	done    chan struct{}
	// err is set by the reader before done is closed.
	err error
}

func (sp *streamSpeaker) say(ctx context.Context, text string) error {
	if sp.openErr != nil {
		return sp.openErr
	}
	if sp.stream == nil {
		stream, err := sp.synth.OpenStream(ctx)
		if err != nil {
			sp.openErr = fmt.Errorf("open synthesis stream: %w", err)
			return sp.openErr
		}
		sp.stream = stream
		go sp.read(ctx)
	}
	select {
	case <-sp.done:
		if sp.err != nil {
			return sp.err
		}
		return errors.New("voicechat: synthesis stream ended early")
	default:
	}
	return sp.stream.Send(ctx, text)
}

func (sp *streamSpeaker) read(ctx context.Context) {
	defer close(sp.done)
	for audio, err := range sp.stream.Recv(ctx) {
		if err != nil {
			sp.err = err
			return
		}
		if err := sp.sink.put(audio); err != nil {
			sp.err = err
			return
		}
	}
}

func (sp *streamSpeaker) finish(ctx context.Context) error {
	if sp.stream == nil {
		return sp.openErr
	}
	select {
	case <-sp.done:
		return sp.err
	default:
	}
	if err := sp.stream.Finish(ctx); err != nil {
		return err
	}
	select {
	case <-sp.done:
		return sp.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sp *streamSpeaker) close() {
	if sp.stream != nil {
		sp.stream.Close()
	}
}

// chunkSpeaker synthesizes each chunk with its own request, one at a time
// in order.
type chunkSpeaker struct {
	synth speech.Synthesizer
	sink  *frameSink
	texts *buffer.Queue[string]

	started bool
	done    chan struct{}
	err     error
}

func (c *chunkSpeaker) say(ctx context.Context, text string) error {
	if !c.started {
		c.started = true
		go c.work(ctx)
	}
	select {
	case <-c.done:
		return c.err
	default:
	}
	return c.texts.Push(text)
}

func (c *chunkSpeaker) work(ctx context.Context) {
	defer close(c.done)
	for {
		text, err := c.texts.Next(ctx)
		if errors.Is(err, iterator.Done) {
			return
		}
		if err != nil {
			c.err = err
			return
		}
		for audio, err := range c.synth.Synthesize(ctx, text) {
			if err != nil {
				c.err = fmt.Errorf("synthesize %q: %w", text, err)
				return
			}
			if err := c.sink.put(audio); err != nil {
				c.err = err
				return
			}
		}
	}
}

func (c *chunkSpeaker) finish(ctx context.Context) error {
	c.texts.Close()
	if !c.started {
		return nil
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chunkSpeaker) close() {
	c.texts.Close()
}
