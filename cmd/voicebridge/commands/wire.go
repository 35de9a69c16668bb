package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stargazerkiyoshi/realtime-voice/cmd/voicebridge/internal/config"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/doubaospeech"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/journal"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/llm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/recording"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/speech"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/voicechat"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/voicews"
)

func newSpeechClient(cfg *config.Config, log *slog.Logger) *doubaospeech.Client {
	opts := []doubaospeech.Option{
		doubaospeech.WithAccessKey(cfg.Volc.AccessKey),
		doubaospeech.WithLogger(log),
	}
	if cfg.Volc.ResourceID != "" {
		opts = append(opts, doubaospeech.WithASRResourceID(cfg.Volc.ResourceID))
	}
	if cfg.Volc.TTSResourceID != "" {
		opts = append(opts, doubaospeech.WithTTSResourceID(cfg.Volc.TTSResourceID))
	}
	if cfg.Volc.ASRURL != "" {
		opts = append(opts, doubaospeech.WithASRURL(cfg.Volc.ASRURL))
	}
	if cfg.Volc.TTSURL != "" {
		opts = append(opts, doubaospeech.WithTTSURL(cfg.Volc.TTSURL))
	}
	return doubaospeech.NewClient(cfg.Volc.AppKey, opts...)
}

func ttsConfig(cfg *config.Config) doubaospeech.TTSConfig {
	return doubaospeech.TTSConfig{
		Speaker:    cfg.Volc.VoiceType,
		SampleRate: cfg.Volc.SampleRate,
	}
}

func newLLM(ctx context.Context, cfg *config.Config) (llm.TokenSource, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		o := llm.NewOpenAI(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.Model)
		o.SystemPrompt = cfg.LLM.SystemPrompt
		return o, nil
	case config.ProviderGemini:
		g, err := llm.NewGemini(ctx, cfg.LLM.Gemini.APIKey, cfg.LLM.Gemini.Model)
		if err != nil {
			return nil, err
		}
		g.SystemPrompt = cfg.LLM.SystemPrompt
		return g, nil
	case config.ProviderEcho:
		return &llm.Echo{Delay: cfg.LLM.EchoDelay}, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

// openJournal opens the Badger journal at journal.dir, or an in-memory one
// when no directory is configured.
func openJournal(cfg *config.Config, log *slog.Logger) (journal.Store, error) {
	if cfg.Journal.Dir == "" {
		return journal.NewMemory(), nil
	}
	b, err := journal.NewBadger(journal.BadgerOptions{Dir: cfg.Journal.Dir, Logger: log})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// openRecordings returns the recording store, or nil when recording is off.
func openRecordings(cfg *config.Config) (recording.Store, error) {
	rc := cfg.Recording
	if rc.S3.Bucket != "" {
		return recording.NewS3(recording.NewS3Client(rc.S3.S3Options), rc.S3.Bucket, rc.S3.Prefix), nil
	}
	if rc.Dir != "" {
		l, err := recording.NewLocal(rc.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, nil
}

// sessionDeps are the long-lived services shared by every session.
type sessionDeps struct {
	recognizers speech.RecognizerFactory
	synthesizer speech.Synthesizer
	model       llm.TokenSource
	journal     journal.Store
	recordings  recording.Store
	config      voicechat.Config
	log         *slog.Logger
}

func (d *sessionDeps) newSession(req voicews.SessionRequest, em voicechat.Emitter) (*voicechat.Session, error) {
	id := req.ID
	sc := d.config
	sc.ID = id
	sc.Logger = d.log
	if req.OutputSampleRate > 0 {
		sc.OutputSampleRate = req.OutputSampleRate
	}
	deps := voicechat.Deps{
		Recognizers: d.recognizers,
		Synthesizer: d.synthesizer,
		LLM:         d.model,
		Emitter:     em,
		Journal:     d.journal,
	}
	if d.recordings != nil {
		deps.Recorder = recording.NewRecorder(d.recordings,
			recording.SessionPath(id, time.Now()),
			recording.RecorderOptions{Logger: d.log.With("session", id)})
	}
	return voicechat.New(sc, deps)
}

func asrConfig(cfg *config.Config) doubaospeech.ASRConfig {
	rate := cfg.Session.VAD.SampleRate
	if rate == 0 {
		rate = 16000
	}
	return doubaospeech.ASRConfig{SampleRate: rate}
}
