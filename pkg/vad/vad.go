// Package vad segments a PCM16 stream into speech and silence by frame
// energy.
package vad

import (
	"math"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
)

// Event is a speech boundary reported by the detector.
type Event int

const (
	SpeechStart Event = iota + 1
	SpeechEnd
)

func (e Event) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	}
	return "unknown"
}

// Config holds detector parameters. Zero fields take the defaults.
type Config struct {
	SampleRate     int     `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	FrameMs        int     `json:"frame_ms,omitempty" yaml:"frame_ms,omitempty"`
	StartThreshold float64 `json:"start_threshold,omitempty" yaml:"start_threshold,omitempty"`
	EndSilenceMs   int     `json:"end_silence_ms,omitempty" yaml:"end_silence_ms,omitempty"`
	MaxSpeechMs    int     `json:"max_speech_ms,omitempty" yaml:"max_speech_ms,omitempty"`
}

const (
	DefaultSampleRate     = 16000
	DefaultFrameMs        = 20
	DefaultStartThreshold = 0.02
	DefaultEndSilenceMs   = 300
	DefaultMaxSpeechMs    = 8000

	// endRatio scales StartThreshold into the silence threshold.
	endRatio = 0.6
	epsilon  = 1e-8
)

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameMs <= 0 {
		c.FrameMs = DefaultFrameMs
	}
	if c.StartThreshold <= 0 {
		c.StartThreshold = DefaultStartThreshold
	}
	if c.EndSilenceMs <= 0 {
		c.EndSilenceMs = DefaultEndSilenceMs
	}
	if c.MaxSpeechMs <= 0 {
		c.MaxSpeechMs = DefaultMaxSpeechMs
	}
	return c
}

// EnergyVAD is an RMS energy detector with hysteresis.
//
// It is not safe for concurrent use; each session owns one.
type EnergyVAD struct {
	cfg              Config
	frameBytes       int
	endThreshold     float64
	endSilenceFrames int
	maxSpeechFrames  int

	inSpeech   bool
	silenceRun int
	speechRun  int
	pending    []byte
	lastRMS    float64
}

// New creates a detector.
func New(cfg Config) *EnergyVAD {
	cfg = cfg.withDefaults()
	samples := cfg.SampleRate * cfg.FrameMs / 1000
	return &EnergyVAD{
		cfg:              cfg,
		frameBytes:       samples * 2,
		endThreshold:     cfg.StartThreshold * endRatio,
		endSilenceFrames: max(1, cfg.EndSilenceMs/cfg.FrameMs),
		maxSpeechFrames:  max(1, cfg.MaxSpeechMs/cfg.FrameMs),
	}
}

// Config returns the effective configuration.
func (v *EnergyVAD) Config() Config {
	return v.cfg
}

// FrameBytes returns the size of one analysis frame in bytes.
func (v *EnergyVAD) FrameBytes() int {
	return v.frameBytes
}

// InSpeech reports whether the detector is inside an utterance.
func (v *EnergyVAD) InSpeech() bool {
	return v.inSpeech
}

// LastRMS returns the energy of the most recently analysed frame.
func (v *EnergyVAD) LastRMS() float64 {
	return v.lastRMS
}

// Process analyses little-endian PCM16 audio and returns the boundaries it
// crosses, in order. A trailing partial frame is kept for the next call.
func (v *EnergyVAD) Process(data []byte) []Event {
	if len(v.pending) > 0 {
		data = append(v.pending, data...)
		v.pending = nil
	}

	var events []Event
	off := 0
	for ; off+v.frameBytes <= len(data); off += v.frameBytes {
		if ev, ok := v.step(RMS(data[off : off+v.frameBytes])); ok {
			events = append(events, ev)
		}
	}
	if off < len(data) {
		v.pending = append([]byte(nil), data[off:]...)
	}
	return events
}

func (v *EnergyVAD) step(rms float64) (Event, bool) {
	v.lastRMS = rms
	if !v.inSpeech {
		if rms >= v.cfg.StartThreshold {
			v.inSpeech = true
			v.silenceRun = 0
			v.speechRun = 0
			return SpeechStart, true
		}
		return 0, false
	}

	v.speechRun++
	if v.speechRun >= v.maxSpeechFrames {
		v.end()
		return SpeechEnd, true
	}
	if rms < v.endThreshold {
		v.silenceRun++
		if v.silenceRun >= v.endSilenceFrames {
			v.end()
			return SpeechEnd, true
		}
	} else {
		v.silenceRun = 0
	}
	return 0, false
}

func (v *EnergyVAD) end() {
	v.inSpeech = false
	v.silenceRun = 0
	v.speechRun = 0
}

// Reset returns the detector to the not-in-speech state and drops any
// buffered partial frame.
func (v *EnergyVAD) Reset() {
	v.end()
	v.pending = nil
	v.lastRMS = 0
}

// RMS returns the root-mean-square of little-endian PCM16 samples normalised
// to [-1, 1], plus a small epsilon.
func RMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return epsilon
	}
	var sum float64
	for i := range n {
		s := float64(pcm.Sample(frame, i)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) + epsilon
}
