package voicechat

import (
	"encoding/json"
	"log/slog"
)

// Event types sent to the client.
const (
	EventTypeReady     = "ready"
	EventTypeASR       = "asr"
	EventTypeAssistant = "assistant"
	EventTypeTTS       = "tts"
	EventTypeVAD       = "vad"
	EventTypeBargeIn   = "barge_in"
	EventTypeError     = "error"
	EventTypeEnd       = "end"
	EventTypePong      = "pong"
)

// Error codes carried by ErrorEvent.
const (
	CodeASR            = "ASR_ERROR"
	CodeTTS            = "TTS_ERROR"
	CodeLLM            = "LLM_ERROR"
	CodeSession        = "SESSION_ERROR"
	CodeNoSession      = "NO_SESSION"
	CodeBadMessage     = "BAD_MESSAGE"
	CodeHandlerFailure = "WS_HANDLER_ERROR"
)

// Event is a message sent to the client. Every event marshals to a JSON
// object with a "type" field.
type Event interface {
	EventType() string
}

// ReadyEvent announces a started session.
type ReadyEvent struct {
	SessionID string `json:"session_id"`
}

// ASREvent carries a partial or final transcript.
type ASREvent struct {
	IsFinal    bool     `json:"is_final"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	StartMs    *int     `json:"start_ms,omitempty"`
	EndMs      *int     `json:"end_ms,omitempty"`
	TsMs       int64    `json:"ts_ms"`
}

// AssistantEvent carries one chunk of the assistant's reply text.
type AssistantEvent struct {
	Text string `json:"text"`
}

// TTSEvent carries one frame of synthesized audio.
type TTSEvent struct {
	Seq        int    `json:"seq"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	// Payload is PCM16 audio, base64 encoded on the wire.
	Payload []byte `json:"payload_base64"`
}

// VADEvent reports a speech boundary in the client's audio.
type VADEvent struct {
	Event string `json:"event"`
	TsMs  int64  `json:"ts_ms"`
}

// BargeInEvent tells the client to drop the audio it is playing.
type BargeInEvent struct{}

// ErrorEvent reports a failure. Most errors do not end the session.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EndEvent is the last event of a session.
type EndEvent struct {
	Reason string `json:"reason"`
}

// PongEvent answers a client ping.
type PongEvent struct {
	TsMs int64 `json:"ts_ms"`
}

func (ReadyEvent) EventType() string     { return EventTypeReady }
func (ASREvent) EventType() string       { return EventTypeASR }
func (AssistantEvent) EventType() string { return EventTypeAssistant }
func (TTSEvent) EventType() string       { return EventTypeTTS }
func (VADEvent) EventType() string       { return EventTypeVAD }
func (BargeInEvent) EventType() string   { return EventTypeBargeIn }
func (ErrorEvent) EventType() string     { return EventTypeError }
func (EndEvent) EventType() string       { return EventTypeEnd }
func (PongEvent) EventType() string      { return EventTypePong }

func (e ReadyEvent) MarshalJSON() ([]byte, error) {
	type alias ReadyEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeReady, alias(e)})
}

func (e ASREvent) MarshalJSON() ([]byte, error) {
	type alias ASREvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeASR, alias(e)})
}

func (e AssistantEvent) MarshalJSON() ([]byte, error) {
	type alias AssistantEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeAssistant, alias(e)})
}

func (e TTSEvent) MarshalJSON() ([]byte, error) {
	type alias TTSEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeTTS, alias(e)})
}

func (e VADEvent) MarshalJSON() ([]byte, error) {
	type alias VADEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeVAD, alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeError, alias(e)})
}

func (e EndEvent) MarshalJSON() ([]byte, error) {
	type alias EndEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeEnd, alias(e)})
}

func (BargeInEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"barge_in"}`), nil
}

func (e PongEvent) MarshalJSON() ([]byte, error) {
	type alias PongEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypePong, alias(e)})
}

// LogValue summarises the frame without its audio.
func (e TTSEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", EventTypeTTS),
		slog.Int("seq", e.Seq),
		slog.Int("sample_rate", e.SampleRate),
		slog.Int("bytes", len(e.Payload)),
	)
}

// Emitter delivers events to the client. Emit is called from several
// goroutines and must be safe for concurrent use.
type Emitter interface {
	Emit(ev Event) error
}

// EmitterFunc is an adapter to allow the use of ordinary functions as
// Emitter.
type EmitterFunc func(ev Event) error

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) error {
	return f(ev)
}
