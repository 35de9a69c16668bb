package voicews

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Message types sent by the client.
const (
	MessageTypeStart = "start"
	MessageTypeAudio = "audio"
	MessageTypeStop  = "stop"
	MessageTypePing  = "ping"
)

// ErrUnknownType is wrapped by DecodeError for an unrecognised "type".
var ErrUnknownType = errors.New("unknown message type")

// DecodeError reports a client message that could not be decoded.
type DecodeError struct {
	// Type is the message type, if it could be read.
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("voicews: bad message: %v", e.Err)
	}
	return fmt.Sprintf("voicews: bad %q message: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Message is a decoded client message.
type Message interface {
	MessageType() string
}

// StartMessage opens a session. An empty SessionID lets the server pick one.
type StartMessage struct {
	SessionID string `json:"session_id,omitempty"`
	// SampleRate is the playback rate the client wants for tts audio.
	// Zero means the synthesizer's rate.
	SampleRate int `json:"sample_rate,omitempty"`
}

// AudioMessage carries 16 kHz mono PCM16 microphone audio.
type AudioMessage struct {
	PCM []byte
	// TsMs is the client timestamp, if sent.
	TsMs *int64
}

// StopMessage ends the session and the connection.
type StopMessage struct {
	Reason string `json:"reason,omitempty"`
}

// PingMessage asks for a pong.
type PingMessage struct{}

func (StartMessage) MessageType() string { return MessageTypeStart }
func (AudioMessage) MessageType() string { return MessageTypeAudio }
func (StopMessage) MessageType() string  { return MessageTypeStop }
func (PingMessage) MessageType() string  { return MessageTypePing }

// LogValue summarises the message without its audio.
func (m AudioMessage) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int("bytes", len(m.PCM))}
	if m.TsMs != nil {
		attrs = append(attrs, slog.Int64("ts_ms", *m.TsMs))
	}
	return slog.GroupValue(attrs...)
}

type audioWire struct {
	PayloadBase64 string `json:"payload_base64"`
	// PayloadB64 is the older field name, still accepted.
	PayloadB64 string `json:"payload_b64"`
	TsMs       *int64 `json:"ts_ms"`
}

// Decode parses one client text frame. Every failure is a *DecodeError.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch head.Type {
	case MessageTypeStart:
		var m StartMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &DecodeError{Type: head.Type, Err: err}
		}
		return m, nil

	case MessageTypeAudio:
		var w audioWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &DecodeError{Type: head.Type, Err: err}
		}
		payload := w.PayloadBase64
		if payload == "" {
			payload = w.PayloadB64
		}
		if payload == "" {
			return nil, &DecodeError{Type: head.Type, Err: errors.New("missing payload_base64")}
		}
		pcm, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, &DecodeError{Type: head.Type, Err: fmt.Errorf("payload: %w", err)}
		}
		return AudioMessage{PCM: pcm, TsMs: w.TsMs}, nil

	case MessageTypeStop:
		var m StopMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &DecodeError{Type: head.Type, Err: err}
		}
		return m, nil

	case MessageTypePing:
		return PingMessage{}, nil

	case "":
		return nil, &DecodeError{Err: errors.New("missing type")}
	}
	return nil, &DecodeError{Type: head.Type, Err: ErrUnknownType}
}
