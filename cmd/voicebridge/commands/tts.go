package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/resampler"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/cli"
)

var (
	ttsOutput string
	ttsRate   int
	ttsVoice  string
)

var ttsCmd = &cobra.Command{
	Use:   "tts TEXT",
	Short: "Synthesize text to a WAV or PCM file",
	Long: `Synthesize TEXT with Doubao bidirectional TTS.

The output is a WAV file when -o ends in .wav, raw PCM16 otherwise.
--rate resamples the audio when it differs from the synthesis rate.`,
	Example: `  voicebridge tts "你好，欢迎使用。" -o hello.wav
  voicebridge tts "hello" -o hello.pcm --rate 16000`,
	Args: cobra.ExactArgs(1),
	RunE: runTTS,
}

func init() {
	ttsCmd.Flags().StringVarP(&ttsOutput, "output", "o", "", "output file (required)")
	ttsCmd.Flags().IntVar(&ttsRate, "rate", 0, "output sample rate, 16000 or 24000 (default: synthesis rate)")
	ttsCmd.Flags().StringVar(&ttsVoice, "voice", "", "voice type (overrides config)")
	ttsCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(ttsCmd)
}

// encodeAudio resamples samples from one format to another and wraps them in
// a WAV container when asWAV is set.
func encodeAudio(samples []byte, from, to pcm.Format, asWAV bool) ([]byte, error) {
	if from != to {
		var err error
		samples, err = resampler.Convert(samples, from, to)
		if err != nil {
			return nil, fmt.Errorf("resample %s -> %s: %w", from, to, err)
		}
	}
	if asWAV {
		return pcm.EncodeWAV(to, samples), nil
	}
	return samples, nil
}

func runTTS(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if ttsVoice != "" {
		cfg.Volc.VoiceType = ttsVoice
	}
	if err := cfg.ValidateSpeech(); err != nil {
		return err
	}
	from, err := pcm.FormatForRate(cfg.Volc.SampleRate)
	if err != nil {
		return err
	}
	to := from
	if ttsRate != 0 {
		if to, err = pcm.FormatForRate(ttsRate); err != nil {
			return err
		}
	}

	client := newSpeechClient(cfg, logger)
	tc := ttsConfig(cfg)
	start := time.Now()
	var firstAudio time.Duration
	var buf bytes.Buffer
	for chunk, err := range client.TTS.Stream(cmd.Context(), &tc, args[0]) {
		if err != nil {
			return fmt.Errorf("synthesize: %w", err)
		}
		if firstAudio == 0 {
			firstAudio = time.Since(start)
		}
		buf.Write(chunk)
	}
	if buf.Len() == 0 {
		return fmt.Errorf("synthesize: no audio returned")
	}

	asWAV := strings.EqualFold(filepath.Ext(ttsOutput), ".wav")
	data, err := encodeAudio(buf.Bytes(), from, to, asWAV)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ttsOutput, data, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	cli.PrintSuccess(cmd.OutOrStdout(), "%s: %s of %s audio (%s), first audio after %s",
		ttsOutput,
		cli.FormatDuration(from.Duration(int64(buf.Len()))),
		to,
		cli.FormatBytes(int64(len(data))),
		cli.FormatDuration(firstAudio))
	return nil
}
