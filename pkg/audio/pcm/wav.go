package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical PCM WAVE header.
const WAVHeaderSize = 44

// ErrNotWAV is returned when input lacks a RIFF/WAVE preamble.
var ErrNotWAV = errors.New("pcm: not a RIFF/WAVE stream")

// WAVHeader is the canonical 44-byte PCM WAVE header.
type WAVHeader struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      uint32
}

// Header returns a WAVHeader for dataSize bytes of f-formatted samples.
func (f Format) Header(dataSize int) WAVHeader {
	return WAVHeader{
		SampleRate:    f.SampleRate(),
		Channels:      f.Channels(),
		BitsPerSample: f.Depth(),
		DataSize:      uint32(dataSize),
	}
}

// MarshalBinary encodes the header in little-endian RIFF layout.
func (h WAVHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, WAVHeaderSize)
	blockAlign := h.Channels * h.BitsPerSample / 8
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], 36+h.DataSize)
	copy(b[8:], "WAVE")
	copy(b[12:], "fmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1) // PCM
	binary.LittleEndian.PutUint16(b[22:], uint16(h.Channels))
	binary.LittleEndian.PutUint32(b[24:], uint32(h.SampleRate))
	binary.LittleEndian.PutUint32(b[28:], uint32(h.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(b[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(b[34:], uint16(h.BitsPerSample))
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], h.DataSize)
	return b, nil
}

// EncodeWAV wraps little-endian PCM16 samples in a WAV container.
func EncodeWAV(f Format, samples []byte) []byte {
	hdr, _ := f.Header(len(samples)).MarshalBinary()
	return append(hdr, samples...)
}

// DecodeWAV reads a PCM WAVE stream and returns its header and sample data.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(r io.Reader) (WAVHeader, []byte, error) {
	var h WAVHeader
	var pre [12]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return h, nil, fmt.Errorf("pcm: read riff header: %w", err)
	}
	if !bytes.Equal(pre[0:4], []byte("RIFF")) || !bytes.Equal(pre[8:12], []byte("WAVE")) {
		return h, nil, ErrNotWAV
	}

	var gotFmt bool
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return h, nil, fmt.Errorf("pcm: read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return h, nil, fmt.Errorf("pcm: read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return h, nil, fmt.Errorf("pcm: fmt chunk too short: %d bytes", len(body))
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return h, nil, fmt.Errorf("pcm: unsupported wav format tag %d", tag)
			}
			h.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return h, nil, errors.New("pcm: data chunk before fmt chunk")
			}
			data, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return h, nil, fmt.Errorf("pcm: read data chunk: %w", err)
			}
			h.DataSize = uint32(len(data))
			return h, data, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return h, nil, fmt.Errorf("pcm: skip %q chunk: %w", id, err)
			}
		}
	}
}
