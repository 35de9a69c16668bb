package doubaospeech

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// newFakeServer starts a WebSocket server that runs handle for each
// connection and returns its ws:// URL.
func newFakeServer(t *testing.T, handle func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(r, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(conn *websocket.Conn) (*message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return unmarshal(data)
}

func writeFrame(conn *websocket.Conn, m *message) error {
	data, err := m.marshal()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// drain reads until the peer goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func asrFrame(text string, definite bool, flags messageTypeFlags, seq int32) *message {
	payload := fmt.Sprintf(`{"result":{"text":%q,"utterances":[{"text":%q,"definite":%t,"start_time":0,"end_time":800}]}}`,
		text, text, definite)
	return &message{
		msgType:       msgTypeFullServer,
		flags:         flags,
		serialization: serializationJSON,
		compression:   compressionGzip,
		sequence:      seq,
		payload:       []byte(payload),
	}
}

func ttsEvent(ev event, sessionID string, payload string) *message {
	return &message{
		msgType:       msgTypeFullServer,
		flags:         msgFlagWithEvent,
		serialization: serializationJSON,
		event:         ev,
		sessionID:     sessionID,
		connectID:     "server-conn",
		payload:       []byte(payload),
	}
}

func ttsAudio(sessionID string, pcm []byte) *message {
	return &message{
		msgType:   msgTypeAudioOnlyServer,
		flags:     msgFlagWithEvent,
		event:     eventTTSResponse,
		sessionID: sessionID,
		payload:   pcm,
	}
}
