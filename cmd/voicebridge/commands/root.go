package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stargazerkiyoshi/realtime-voice/cmd/voicebridge/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string
	logFormat  string

	globalConfig *config.Config
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "voicebridge",
	Short: "Realtime voice conversation server and speech tools",
	Long: `voicebridge - Realtime voice conversations over WebSocket.

A browser streams microphone audio to /ws; the server detects speech,
recognizes it with Doubao streaming ASR, asks a language model for a reply
and streams synthesized speech back. The user can interrupt the assistant
by talking over it.

Configuration is read from --config, or from the OS config directory:
  macOS:   ~/Library/Application Support/voicebridge/config.yaml
  Linux:   ~/.config/voicebridge/config.yaml

Environment variables override the file (VOLC_APP_KEY, VOLC_ACCESS_KEY,
OPENAI_API_KEY, LLM_PROVIDER, VOICE_LISTEN_ADDR, JOURNAL_DIR, ...).

Examples:
  # Run the server with the echo model
  LLM_PROVIDER=echo voicebridge serve

  # Check recognition of a 16 kHz mono WAV file
  voicebridge asr hello.wav

  # Synthesize a greeting
  voicebridge tts "你好，欢迎使用。" -o hello.wav`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(cmd.ErrOrStderr(), logFormat, verbose)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: OS config dir)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default from config)")
}

func newLogger(w io.Writer, format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// GetConfig loads the configuration once. Commands that do not need it, like
// 'voicebridge version', never trigger a load.
func GetConfig() (*config.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config not available: %w", err)
	}
	globalConfig = cfg
	if logFormat == "" && cfg.Log.Format != "text" {
		logger = newLogger(os.Stderr, cfg.Log.Format, verbose)
		slog.SetDefault(logger)
	}
	return cfg, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
