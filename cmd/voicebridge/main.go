// Package main is the entry point for the voicebridge CLI.
//
// Usage:
//
//	voicebridge [flags] <command> [args]
//
// Commands:
//
//	serve      - Run the realtime voice WebSocket server
//	asr        - Stream an audio file through speech recognition
//	tts        - Synthesize text to a WAV or PCM file
//	sessions   - List recent sessions from the journal
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/stargazerkiyoshi/realtime-voice/cmd/voicebridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
