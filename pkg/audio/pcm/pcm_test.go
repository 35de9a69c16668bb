package pcm

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		format     Format
		rate       int
		frameBytes int64
	}{
		{L16Mono16K, 16000, 640},
		{L16Mono24K, 24000, 960},
	}
	for _, tt := range tests {
		if got := tt.format.SampleRate(); got != tt.rate {
			t.Errorf("%v SampleRate = %d, want %d", tt.format, got, tt.rate)
		}
		if got := tt.format.BytesInDuration(20 * time.Millisecond); got != tt.frameBytes {
			t.Errorf("%v BytesInDuration(20ms) = %d, want %d", tt.format, got, tt.frameBytes)
		}
		if got := tt.format.Duration(tt.frameBytes); got != 20*time.Millisecond {
			t.Errorf("%v Duration(%d) = %v, want 20ms", tt.format, tt.frameBytes, got)
		}
		f, err := FormatForRate(tt.rate)
		if err != nil || f != tt.format {
			t.Errorf("FormatForRate(%d) = %v, %v", tt.rate, f, err)
		}
	}
	if _, err := FormatForRate(44100); err == nil {
		t.Error("FormatForRate(44100) should fail")
	}
}

func TestSample(t *testing.T) {
	b := make([]byte, 4)
	PutSample(b, 0, -2)
	PutSample(b, 1, 1234)
	if Sample(b, 0) != -2 || Sample(b, 1) != 1234 {
		t.Fatalf("samples = %d, %d", Sample(b, 0), Sample(b, 1))
	}
}

func TestWAV(t *testing.T) {
	samples := []byte{1, 0, 2, 0, 3, 0}
	wav := EncodeWAV(L16Mono24K, samples)
	if len(wav) != WAVHeaderSize+len(samples) {
		t.Fatalf("len = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad preamble %q", wav[:12])
	}

	h, data, err := DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("DecodeWAV error: %v", err)
	}
	if h.SampleRate != 24000 || h.Channels != 1 || h.BitsPerSample != 16 {
		t.Fatalf("header = %+v", h)
	}
	if !bytes.Equal(data, samples) {
		t.Fatalf("data = %v, want %v", data, samples)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	wav := EncodeWAV(L16Mono16K, []byte{9, 9})
	// Insert a LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	in := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	h, data, err := DecodeWAV(bytes.NewReader(in))
	if err != nil {
		t.Fatalf("DecodeWAV error: %v", err)
	}
	if h.SampleRate != 16000 || !bytes.Equal(data, []byte{9, 9}) {
		t.Fatalf("got %+v %v", h, data)
	}
}

func TestDecodeWAV_NotWAV(t *testing.T) {
	_, _, err := DecodeWAV(bytes.NewReader([]byte("OggS0000000000000000")))
	if !errors.Is(err, ErrNotWAV) {
		t.Fatalf("err = %v, want ErrNotWAV", err)
	}
}
