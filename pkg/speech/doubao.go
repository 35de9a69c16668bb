package speech

import (
	"context"
	"iter"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/doubaospeech"
)

// DoubaoASR creates Doubao streaming recognizers.
type DoubaoASR struct {
	client *doubaospeech.Client
	config doubaospeech.ASRConfig
}

var _ RecognizerFactory = (*DoubaoASR)(nil)

// NewDoubaoASR returns a factory for Doubao recognition streams.
func NewDoubaoASR(client *doubaospeech.Client, config doubaospeech.ASRConfig) *DoubaoASR {
	return &DoubaoASR{client: client, config: config}
}

// NewRecognizer implements RecognizerFactory.
func (a *DoubaoASR) NewRecognizer() Recognizer {
	cfg := a.config
	return &doubaoRecognizer{stream: a.client.ASR.NewStream(&cfg)}
}

type doubaoRecognizer struct {
	stream *doubaospeech.RecognitionStream
}

func (r *doubaoRecognizer) Feed(pcm []byte) error {
	return r.stream.Feed(pcm)
}

func (r *doubaoRecognizer) Recv(ctx context.Context) iter.Seq2[Transcript, error] {
	return func(yield func(Transcript, error) bool) {
		for res, err := range r.stream.Recv(ctx) {
			if err != nil {
				yield(Transcript{}, err)
				return
			}
			if !yield(Transcript{
				Text:       res.Text,
				IsFinal:    res.IsFinal,
				StartMs:    res.StartMs,
				EndMs:      res.EndMs,
				Confidence: res.Confidence,
			}, nil) {
				return
			}
		}
	}
}

func (r *doubaoRecognizer) PlanClose()                      { r.stream.PlanClose() }
func (r *doubaoRecognizer) PlannedClose() bool              { return r.stream.PlannedClose() }
func (r *doubaoRecognizer) Close(ctx context.Context) error { return r.stream.Close(ctx) }

// DoubaoTTS synthesizes with the Doubao bidirectional TTS API.
type DoubaoTTS struct {
	client *doubaospeech.Client
	config doubaospeech.TTSConfig
	format pcm.Format
}

var _ StreamingSynthesizer = (*DoubaoTTS)(nil)

// NewDoubaoTTS returns a synthesizer. The sample rate must be 16000 or 24000.
func NewDoubaoTTS(client *doubaospeech.Client, config doubaospeech.TTSConfig) (*DoubaoTTS, error) {
	if config.SampleRate == 0 {
		config.SampleRate = 24000
	}
	format, err := pcm.FormatForRate(config.SampleRate)
	if err != nil {
		return nil, err
	}
	return &DoubaoTTS{client: client, config: config, format: format}, nil
}

// Format implements Synthesizer.
func (t *DoubaoTTS) Format() pcm.Format {
	return t.format
}

// Synthesize implements Synthesizer with one connection per call.
func (t *DoubaoTTS) Synthesize(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	cfg := t.config
	return t.client.TTS.Stream(ctx, &cfg, text)
}

// OpenStream implements StreamingSynthesizer.
func (t *DoubaoTTS) OpenStream(ctx context.Context) (SynthesisStream, error) {
	cfg := t.config
	s, err := t.client.TTS.OpenStream(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
