// Package audio groups the audio sub-packages:
//
//   - pcm: 16-bit mono PCM formats and WAV encoding
//   - resampler: streaming sample rate conversion between the formats
package audio
