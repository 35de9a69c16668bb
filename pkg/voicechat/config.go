package voicechat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/chunker"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/journal"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/llm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/speech"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/vad"
)

// Defaults for Config.
const (
	DefaultEndOfUtteranceDelay    = 600 * time.Millisecond
	DefaultPreRoll                = 300 * time.Millisecond
	DefaultHistoryTurns           = 10
	DefaultRecognizerCloseTimeout = 3 * time.Second
	DefaultFinishTimeout          = 10 * time.Second
)

// Config holds per-session settings. Zero fields take the defaults.
type Config struct {
	// ID identifies the session. Empty means a random UUID.
	ID string `yaml:"-"`

	VAD     vad.Config     `yaml:"vad,omitempty"`
	Chunker chunker.Config `yaml:"chunker,omitempty"`

	// EndOfUtteranceDelay is how long after speech_end the recognizer is
	// kept open for a resumption of speech.
	EndOfUtteranceDelay time.Duration `yaml:"end_of_utterance_delay,omitempty"`

	// PreRoll is the audio kept from before speech_start and sent to the
	// recognizer ahead of the triggering frame. Negative disables it.
	PreRoll time.Duration `yaml:"pre_roll,omitempty"`

	// HistoryTurns bounds the history sent to the language model.
	HistoryTurns int `yaml:"history_turns,omitempty"`

	// DisableBargeIn keeps the assistant talking when the user speaks over
	// it. Speech during a reply is then ignored.
	DisableBargeIn bool `yaml:"disable_barge_in,omitempty"`

	// RecognizerCloseTimeout bounds the wait for a recognizer's final
	// result when it is closed.
	RecognizerCloseTimeout time.Duration `yaml:"recognizer_close_timeout,omitempty"`

	// FinishTimeout bounds storing the recording and the journal record
	// when the session ends.
	FinishTimeout time.Duration `yaml:"finish_timeout,omitempty"`

	// OutputSampleRate is the rate of tts audio sent to the client.
	// Zero means the synthesizer's rate.
	OutputSampleRate int `yaml:"output_sample_rate,omitempty"`

	Logger *slog.Logger `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.EndOfUtteranceDelay <= 0 {
		c.EndOfUtteranceDelay = DefaultEndOfUtteranceDelay
	}
	if c.PreRoll == 0 {
		c.PreRoll = DefaultPreRoll
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = DefaultHistoryTurns
	}
	if c.RecognizerCloseTimeout <= 0 {
		c.RecognizerCloseTimeout = DefaultRecognizerCloseTimeout
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = DefaultFinishTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Recorder captures the client's microphone audio.
type Recorder interface {
	io.Writer
	// Finish stores the recording and returns where it went.
	Finish(ctx context.Context) (string, error)
}

// Journal stores the summary of a finished session.
type Journal interface {
	Put(ctx context.Context, r journal.Record) error
}

// Deps are the services a session talks to.
type Deps struct {
	Recognizers speech.RecognizerFactory
	// Synthesizer voices the reply. If it also implements
	// speech.StreamingSynthesizer, one synthesis stream is used per turn.
	Synthesizer speech.Synthesizer
	LLM         llm.TokenSource
	Emitter     Emitter

	// Optional.
	Recorder Recorder
	Journal  Journal
}

func (d Deps) validate() error {
	var errs []error
	if d.Recognizers == nil {
		errs = append(errs, errors.New("voicechat: Deps.Recognizers is nil"))
	}
	if d.Synthesizer == nil {
		errs = append(errs, errors.New("voicechat: Deps.Synthesizer is nil"))
	}
	if d.LLM == nil {
		errs = append(errs, errors.New("voicechat: Deps.LLM is nil"))
	}
	if d.Emitter == nil {
		errs = append(errs, errors.New("voicechat: Deps.Emitter is nil"))
	}
	return errors.Join(errs...)
}
