package pcm

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	L16Mono16K Format = iota
	L16Mono24K
)

// Format is a little-endian 16-bit mono PCM layout at a fixed sample rate.
type Format int

// FormatForRate returns the Format for a sample rate in Hz.
func FormatForRate(rate int) (Format, error) {
	switch rate {
	case 16000:
		return L16Mono16K, nil
	case 24000:
		return L16Mono24K, nil
	}
	return 0, fmt.Errorf("pcm: unsupported sample rate %d", rate)
}

func (f Format) SampleRate() int {
	switch f {
	case L16Mono16K:
		return 16000
	case L16Mono24K:
		return 24000
	}
	panic("pcm: invalid audio type")
}

func (f Format) Channels() int {
	return 1
}

func (f Format) Depth() int {
	return 16
}

// Samples returns the number of samples held in n bytes.
func (f Format) Samples(bytes int64) int64 {
	return bytes * 8 / int64(f.Channels()) / int64(f.Depth())
}

func (f Format) SamplesInDuration(d time.Duration) int64 {
	return int64(time.Duration(f.SampleRate()) * d / time.Second)
}

func (f Format) BytesInDuration(d time.Duration) int64 {
	return f.SamplesInDuration(d) * int64(f.Channels()) * int64(f.Depth()) / 8
}

func (f Format) Duration(bytes int64) time.Duration {
	return time.Duration(f.Samples(bytes)) * time.Second / time.Duration(f.SampleRate())
}

func (f Format) BytesRate() int {
	return f.SampleRate() * f.Channels() * f.Depth() / 8
}

func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=1", f.SampleRate())
}

// Sample returns the i-th sample of little-endian PCM16 data.
func Sample(data []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(data[i*2:]))
}

// PutSample stores v as the i-th sample of little-endian PCM16 data.
func PutSample(data []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
}
