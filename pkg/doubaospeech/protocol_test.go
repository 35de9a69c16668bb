package doubaospeech

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestMarshalAudioFrame(t *testing.T) {
	m := audioMessage([]byte{1, 2, 3, 4}, 2, false)
	data, err := m.marshal()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	if data[0] != 0x11 {
		t.Errorf("byte0 = %#x, want 0x11", data[0])
	}
	if data[1] != byte(msgTypeAudioOnlyClient)<<4|byte(msgFlagPosSequence) {
		t.Errorf("byte1 = %#x", data[1])
	}
	if data[2] != byte(serializationNone)<<4|byte(compressionGzip) {
		t.Errorf("byte2 = %#x", data[2])
	}
	if seq := int32(binary.BigEndian.Uint32(data[4:8])); seq != 2 {
		t.Errorf("sequence = %d, want 2", seq)
	}
	size := binary.BigEndian.Uint32(data[8:12])
	if int(size) != len(data)-12 {
		t.Errorf("payload size = %d, frame has %d", size, len(data)-12)
	}

	got, err := unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !bytes.Equal(got.payload, []byte{1, 2, 3, 4}) {
		t.Errorf("payload = %v", got.payload)
	}
	if got.sequence != 2 || got.isLast() {
		t.Errorf("sequence = %d, isLast = %v", got.sequence, got.isLast())
	}
}

func TestTerminalFrame(t *testing.T) {
	m := audioMessage([]byte{9, 9}, 7, true)
	data, err := m.marshal()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	got, err := unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if got.flags != msgFlagNegSequence || got.sequence != -7 {
		t.Errorf("flags = %04b, sequence = %d", got.flags, got.sequence)
	}
	if !got.isLast() {
		t.Error("terminal frame should be last")
	}
	if len(got.payload) != 0 {
		t.Errorf("terminal payload = %v, want empty PCM", got.payload)
	}
}

func TestEventFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  message
	}{
		{"start connection", message{msgType: msgTypeFullClient, flags: msgFlagWithEvent, serialization: serializationJSON, event: eventStartConnection, payload: []byte("{}")}},
		{"connection started", message{msgType: msgTypeFullServer, flags: msgFlagWithEvent, serialization: serializationJSON, event: eventConnectionStarted, connectID: "conn-1", payload: []byte("{}")}},
		{"tts response", message{msgType: msgTypeAudioOnlyServer, flags: msgFlagWithEvent, event: eventTTSResponse, sessionID: "sess-1", payload: []byte{0, 1, 2}}},
		{"session finished gzip", message{msgType: msgTypeFullServer, flags: msgFlagWithEvent, serialization: serializationJSON, compression: compressionGzip, event: eventSessionFinished, sessionID: "sess-1", payload: []byte(`{"status_code":20000000}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.marshal()
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}
			got, err := unmarshal(data)
			if err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if got.event != tt.msg.event || got.sessionID != tt.msg.sessionID || got.connectID != tt.msg.connectID {
				t.Errorf("got event=%v sid=%q cid=%q", got.event, got.sessionID, got.connectID)
			}
			if !bytes.Equal(got.payload, tt.msg.payload) {
				t.Errorf("payload = %q, want %q", got.payload, tt.msg.payload)
			}
		})
	}
}

func TestUnmarshalErrorFrame(t *testing.T) {
	m := message{
		msgType:       msgTypeError,
		serialization: serializationJSON,
		compression:   compressionGzip,
		errorCode:     45000001,
		payload:       []byte(`{"message":"invalid audio"}`),
	}
	data, err := m.marshal()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if code := int32(binary.BigEndian.Uint32(data[4:8])); code != 45000001 {
		t.Fatalf("error code at offset 4 = %d", code)
	}

	got, err := unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	e := serverError(got)
	if e.Code != 45000001 || e.Message != "invalid audio" {
		t.Errorf("serverError = %+v", e)
	}
}

func TestUnmarshalSkipsHeaderExtension(t *testing.T) {
	// header_size = 2 words, the second word is an extension.
	data := []byte{
		0x12, byte(msgTypeFullServer)<<4 | byte(msgFlagPosSequence), byte(serializationJSON) << 4, 0,
		0xAA, 0xBB, 0xCC, 0xDD,
		0, 0, 0, 3,
		0, 0, 0, 2,
		'{', '}',
	}
	got, err := unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if got.sequence != 3 || string(got.payload) != "{}" {
		t.Errorf("sequence = %d, payload = %q", got.sequence, got.payload)
	}
}

func TestLastNoSequenceFlagHasNoSequenceField(t *testing.T) {
	data := []byte{
		0x11, byte(msgTypeFullServer)<<4 | byte(msgFlagLastNoSeq), byte(serializationJSON) << 4, 0,
		0, 0, 0, 2,
		'{', '}',
	}
	got, err := unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !got.isLast() || got.hasSequence() {
		t.Errorf("isLast = %v, hasSequence = %v", got.isLast(), got.hasSequence())
	}
	if string(got.payload) != "{}" {
		t.Errorf("payload = %q", got.payload)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	full, _ := audioMessage([]byte("hello"), 2, false).marshal()
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x11, 0x90}},
		{"zero header size", []byte{0x10, 0x90, 0x10, 0x00, 0, 0, 0, 0}},
		{"bad version", []byte{0x21, 0x90, 0x10, 0x00, 0, 0, 0, 0}},
		{"missing sequence", full[:6]},
		{"missing payload size", full[:10]},
		{"truncated payload", full[:len(full)-1]},
		{"bad gzip", []byte{0x11, 0x90, 0x11, 0x00, 0, 0, 0, 2, 'n', 'o'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := unmarshal(tt.data)
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ProtocolError", err)
			}
		})
	}
}

func TestEventString(t *testing.T) {
	if eventTTSResponse.String() != "TTSResponse" {
		t.Errorf("String = %q", eventTTSResponse.String())
	}
	if event(999).String() != "Event(999)" {
		t.Errorf("String = %q", event(999).String())
	}
}
