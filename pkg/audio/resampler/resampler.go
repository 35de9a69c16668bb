package resampler

import (
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
)

// Stream converts little-endian PCM16 mono audio from one format to another.
type Stream struct {
	from, to pcm.Format

	mu sync.Mutex
	rs resampling.Resampler
	// odd holds a dangling byte when a frame split a sample.
	odd []byte
}

// New creates a Stream. When both formats share a sample rate the stream
// passes data through unchanged.
func New(from, to pcm.Format) (*Stream, error) {
	s := &Stream{from: from, to: to}
	if from.SampleRate() == to.SampleRate() {
		return s, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from.SampleRate()),
		OutputRate: float64(to.SampleRate()),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: create %d->%d: %w", from.SampleRate(), to.SampleRate(), err)
	}
	s.rs = rs
	return s, nil
}

// Passthrough reports whether the stream leaves audio untouched.
func (s *Stream) Passthrough() bool {
	return s.rs == nil
}

// Process converts one chunk of input. The output may be shorter than the
// rate ratio suggests while the filter fills.
func (s *Stream) Process(in []byte) ([]byte, error) {
	if s.rs == nil {
		return in, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.odd) > 0 {
		in = append(s.odd, in...)
		s.odd = nil
	}
	if len(in)%2 == 1 {
		s.odd = []byte{in[len(in)-1]}
		in = in[:len(in)-1]
	}
	n := len(in) / 2
	if n == 0 {
		return nil, nil
	}

	input := make([]float64, n)
	for i := range n {
		input[i] = float64(pcm.Sample(in, i)) / 32768.0
	}
	output, err := s.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, v := range output {
		pcm.PutSample(out, i, clamp(v))
	}
	return out, nil
}

func clamp(v float64) int16 {
	switch {
	case v >= 1.0:
		return 32767
	case v <= -1.0:
		return -32768
	}
	return int16(v * 32767.0)
}

// Convert resamples a complete buffer in one call.
func Convert(in []byte, from, to pcm.Format) ([]byte, error) {
	s, err := New(from, to)
	if err != nil {
		return nil, err
	}
	return s.Process(in)
}
