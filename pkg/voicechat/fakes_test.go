package voicechat

import (
	"context"
	"errors"
	"iter"
	"math"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/iterator"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/buffer"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/journal"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/llm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/speech"
)

const frameBytes = 640 // 20 ms at 16 kHz

func speechFrame() []byte {
	b := make([]byte, frameBytes)
	for i := range frameBytes / 2 {
		pcm.PutSample(b, i, int16(10000*math.Sin(2*math.Pi*440*float64(i)/16000)))
	}
	return b
}

func silenceFrame() []byte {
	return make([]byte, frameBytes)
}

// fakeRecognizer emits one partial on the first Feed and the final
// transcript when closed.
type fakeRecognizer struct {
	text    string
	results *buffer.Queue[speech.Transcript]

	mu      sync.Mutex
	fed     int
	planned bool
	once    sync.Once
}

func (r *fakeRecognizer) Feed(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fed == 0 {
		if err := r.results.Push(speech.Transcript{Text: string([]rune(r.text)[:1])}); err != nil {
			return err
		}
	}
	r.fed += len(pcm)
	return nil
}

func (r *fakeRecognizer) Recv(ctx context.Context) iter.Seq2[speech.Transcript, error] {
	return func(yield func(speech.Transcript, error) bool) {
		for {
			t, err := r.results.Next(ctx)
			if errors.Is(err, iterator.Done) {
				return
			}
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

func (r *fakeRecognizer) PlanClose() {
	r.mu.Lock()
	r.planned = true
	r.mu.Unlock()
}

func (r *fakeRecognizer) PlannedClose() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.planned
}

func (r *fakeRecognizer) Close(context.Context) error {
	r.once.Do(func() {
		r.results.Push(speech.Transcript{Text: r.text, IsFinal: true})
		r.results.Close()
	})
	return nil
}

func (r *fakeRecognizer) bytesFed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fed
}

// fakeRecognizers hands out recognizers that transcribe texts in order.
type fakeRecognizers struct {
	mu    sync.Mutex
	texts []string
	made  []*fakeRecognizer
}

func (f *fakeRecognizers) NewRecognizer() speech.Recognizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := "？"
	if len(f.made) < len(f.texts) {
		text = f.texts[len(f.made)]
	}
	r := &fakeRecognizer{text: text, results: buffer.NewQueue[speech.Transcript](4)}
	f.made = append(f.made, r)
	return r
}

func (f *fakeRecognizers) get(i int) *fakeRecognizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.made) {
		return nil
	}
	return f.made[i]
}

// fakeSynth returns one 10 ms frame of 24 kHz audio per character.
type fakeSynth struct{}

func (fakeSynth) Format() pcm.Format {
	return pcm.L16Mono24K
}

func (fakeSynth) Synthesize(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for range []rune(text) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(make([]byte, 480), nil) {
				return
			}
		}
	}
}

// fakeStreamSynth also offers a synthesis stream.
type fakeStreamSynth struct {
	fakeSynth
}

func (fakeStreamSynth) OpenStream(context.Context) (speech.SynthesisStream, error) {
	return &fakeStream{audio: buffer.NewQueue[[]byte](16)}, nil
}

type fakeStream struct {
	audio *buffer.Queue[[]byte]
}

func (s *fakeStream) Send(_ context.Context, text string) error {
	for range []rune(text) {
		if err := s.audio.Push(make([]byte, 480)); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStream) Finish(context.Context) error {
	s.audio.Close()
	return nil
}

func (s *fakeStream) Recv(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			b, err := s.audio.Next(ctx)
			if errors.Is(err, iterator.Done) {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

func (s *fakeStream) Close() error {
	s.audio.Close()
	return nil
}

type failingSynth struct {
	fakeSynth
}

func (failingSynth) Synthesize(context.Context, string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		yield(nil, errors.New("synthesis unavailable"))
	}
}

// scriptedLLM answers call i with replies[i]. A reply ending in hold keeps
// the stream open until its context is cancelled; one ending in fail breaks
// off with an error.
type scriptedLLM struct {
	replies []string

	mu        sync.Mutex
	calls     int
	histories [][]llm.Message
	cancelled chan struct{}
}

const (
	hold = "\x00hold"
	fail = "\x00fail"
)

func (m *scriptedLLM) Stream(ctx context.Context, history []llm.Message) iter.Seq2[string, error] {
	m.mu.Lock()
	i := m.calls
	m.calls++
	m.histories = append(m.histories, history)
	m.mu.Unlock()
	return func(yield func(string, error) bool) {
		reply := "嗯。"
		if i < len(m.replies) {
			reply = m.replies[i]
		}
		holding, failing := false, false
		if n := len(reply) - len(hold); n >= 0 && reply[n:] == hold {
			reply, holding = reply[:n], true
		}
		if n := len(reply) - len(fail); n >= 0 && reply[n:] == fail {
			reply, failing = reply[:n], true
		}
		for _, r := range reply {
			if !yield(string(r), nil) {
				return
			}
		}
		if failing {
			yield("", errors.New("stream reset"))
			return
		}
		if holding {
			<-ctx.Done()
			if m.cancelled != nil {
				close(m.cancelled)
			}
			yield("", ctx.Err())
		}
	}
}

type errLLM struct{}

func (errLLM) Stream(context.Context, []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", errors.New("model overloaded"))
	}
}

// collector records emitted events.
type collector struct {
	ch chan Event

	mu     sync.Mutex
	events []Event
}

func newCollector() *collector {
	return &collector{ch: make(chan Event, 4096)}
}

func (c *collector) Emit(ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.ch <- ev
	return nil
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// wait returns the next event of type typ, failing the test after 5s.
func (c *collector) wait(t *testing.T, typ string) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.ch:
			if ev.EventType() == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
			return nil
		}
	}
}

type memRecorder struct {
	mu       sync.Mutex
	data     []byte
	finished bool
}

func (r *memRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, p...)
	return len(p), nil
}

func (r *memRecorder) Finish(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	return "mem://recording.wav", nil
}

var _ Journal = (*journal.Memory)(nil)
