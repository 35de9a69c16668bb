// Package pcm describes the 16-bit mono PCM formats the voice pipeline
// moves around and encodes them into WAV containers.
//
// Key types:
//   - Format: sample rate plus the fixed L16 mono layout
//   - WAVHeader: the canonical 44-byte RIFF/WAVE header
//
// Example usage:
//
//	format := pcm.L16Mono16K
//
//	// Bytes in one 20ms VAD frame
//	n := format.BytesInDuration(20 * time.Millisecond)
//
//	// Wrap raw samples in a WAV container
//	wav := pcm.EncodeWAV(format, samples)
package pcm
