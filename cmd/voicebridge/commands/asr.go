package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/cli"
	"github.com/stargazerkiyoshi/realtime-voice/pkg/doubaospeech"
)

var (
	asrSleep time.Duration
	asrIdle  time.Duration
	asrWait  time.Duration
	asrFrame time.Duration
)

var asrCmd = &cobra.Command{
	Use:   "asr FILE",
	Short: "Stream an audio file through speech recognition",
	Long: `Stream a 16 kHz mono PCM16 file (.wav, or raw .pcm) through Doubao
streaming ASR and print partial and final transcripts.

Use --sleep to pace the audio like a live microphone.`,
	Example: `  voicebridge asr hello.wav
  voicebridge asr hello.pcm --sleep 10ms --idle 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runASR,
}

func init() {
	asrCmd.Flags().DurationVar(&asrFrame, "frame", 10*time.Millisecond, "audio per feed")
	asrCmd.Flags().DurationVar(&asrSleep, "sleep", 0, "pause after each feed")
	asrCmd.Flags().DurationVar(&asrIdle, "idle", 5*time.Second, "close the stream after this long without audio")
	asrCmd.Flags().DurationVar(&asrWait, "wait", 0, "wait before closing (default: max(1s, idle/2))")
	rootCmd.AddCommand(asrCmd)
}

// loadPCM reads a WAV file, or raw PCM for any other extension, and checks
// that it is 16 kHz mono PCM16.
func loadPCM(path string) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("%s: odd byte count %d is not PCM16", path, len(data))
		}
		return data, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, data, err := pcm.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if h.SampleRate != 16000 || h.Channels != 1 || h.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported WAV format: rate=%d channels=%d bits=%d (expect 16k/mono/16-bit)",
			h.SampleRate, h.Channels, h.BitsPerSample)
	}
	return data, nil
}

func runASR(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSpeech(); err != nil {
		return err
	}
	audio, err := loadPCM(args[0])
	if err != nil {
		return err
	}
	wait := asrWait
	if wait == 0 {
		wait = max(time.Second, asrIdle/2)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	styles := cli.DefaultStyles
	client := newSpeechClient(cfg, logger)
	stream := client.ASR.NewStream(&doubaospeech.ASRConfig{IdleTimeout: asrIdle})

	cli.PrintInfo(out, "%s: %s of audio, connect id %s",
		filepath.Base(args[0]), cli.FormatDuration(pcm.L16Mono16K.Duration(int64(len(audio)))), stream.ConnectID())

	results := 0
	recvDone := make(chan error, 1)
	go func() {
		for res, err := range stream.Recv(ctx) {
			if err != nil {
				recvDone <- err
				return
			}
			results++
			if res.IsFinal {
				fmt.Fprintln(out, styles.Final.Render("[asr final]   "+res.Text))
			} else {
				fmt.Fprintln(out, styles.Dim.Render("[asr partial] "+res.Text))
			}
		}
		recvDone <- nil
	}()

	frame := int(pcm.L16Mono16K.BytesInDuration(asrFrame))
	frame = max(frame, 2)
	for off := 0; off < len(audio); off += frame {
		end := min(off+frame, len(audio))
		if err := stream.Feed(audio[off:end]); err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		if asrSleep > 0 {
			select {
			case <-time.After(asrSleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stream.Close(cctx); err != nil && !errors.Is(err, context.Canceled) {
		cli.PrintWarning(cmd.ErrOrStderr(), "close: %v", err)
	}
	if err := <-recvDone; err != nil {
		return fmt.Errorf("ASR stream error: %w", err)
	}
	if results == 0 {
		cli.PrintWarning(out, "ASR finished with no text results.")
	}
	return nil
}
