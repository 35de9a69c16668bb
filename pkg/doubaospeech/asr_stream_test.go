package doubaospeech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestClient(url string, opts ...Option) *Client {
	base := []Option{
		WithV2APIKey("test-access", "test-app"),
		WithASRURL(url),
		WithTTSURL(url),
	}
	return NewClient("test-app", append(base, opts...)...)
}

func collectASR(t *testing.T, s *RecognitionStream) ([]*ASRResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var results []*ASRResult
	for res, err := range s.Recv(ctx) {
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func TestRecognitionStream(t *testing.T) {
	type observed struct {
		header  http.Header
		request map[string]any
		seqs    []int32
		flags   []messageTypeFlags
	}
	obsCh := make(chan observed, 1)

	url := newFakeServer(t, func(r *http.Request, conn *websocket.Conn) {
		obs := observed{header: r.Header.Clone()}
		defer func() { obsCh <- obs }()

		full, err := readFrame(conn)
		if err != nil {
			t.Errorf("read full request: %v", err)
			return
		}
		if full.msgType != msgTypeFullClient || full.compression != compressionGzip {
			t.Errorf("full request type=%04b compression=%04b", full.msgType, full.compression)
		}
		json.Unmarshal(full.payload, &obs.request)

		for {
			m, err := readFrame(conn)
			if err != nil {
				t.Errorf("read audio: %v", err)
				return
			}
			obs.seqs = append(obs.seqs, m.sequence)
			obs.flags = append(obs.flags, m.flags)
			switch {
			case m.sequence == 2:
				writeFrame(conn, asrFrame("hel", false, msgFlagPosSequence, 1))
			case m.sequence < 0:
				writeFrame(conn, asrFrame("hello", true, msgFlagNegSequence, -2))
				return
			}
		}
	})

	c := newTestClient(url, WithIdleTimeout(time.Minute), WithUserID("u1"))
	s := c.ASR.NewStream(&ASRConfig{SampleRate: 16000})
	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %v", s.State())
	}
	if err := s.Feed(make([]byte, 640)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if err := s.Feed(make([]byte, 640)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}

	closeErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closeErr <- s.Close(ctx)
	}()

	results, err := collectASR(t, s)
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if err := <-closeErr; err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Text != "hel" || results[0].IsFinal {
		t.Errorf("partial = %+v", results[0])
	}
	if results[1].Text != "hello" || !results[1].IsFinal {
		t.Errorf("final = %+v", results[1])
	}
	if results[1].EndMs == nil || *results[1].EndMs != 800 {
		t.Errorf("final EndMs = %v", results[1].EndMs)
	}
	if s.State() != StateClosed {
		t.Errorf("state after close = %v", s.State())
	}
	if err := s.Feed([]byte{0, 0}); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Feed after close = %v, want ErrStreamClosed", err)
	}

	obs := <-obsCh
	for k, want := range map[string]string{
		"X-Api-App-Key":     "test-app",
		"X-Api-Access-Key":  "test-access",
		"X-Api-Resource-Id": ResourceASRStream,
		"X-Api-Connect-Id":  s.ConnectID(),
	} {
		if got := obs.header.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
	req, _ := obs.request["request"].(map[string]any)
	if req["model_name"] != "bigmodel" || req["enable_itn"] != true || req["enable_ddc"] != false {
		t.Errorf("request = %v", obs.request["request"])
	}
	audio, _ := obs.request["audio"].(map[string]any)
	if audio["rate"] != float64(16000) || audio["bits"] != float64(16) || audio["channel"] != float64(1) {
		t.Errorf("audio = %v", obs.request["audio"])
	}
	if !slices.Equal(obs.seqs, []int32{2, 3, -4}) {
		t.Errorf("sequences = %v, want [2 3 -4]", obs.seqs)
	}
	if obs.flags[2] != msgFlagNegSequence {
		t.Errorf("terminal flags = %04b", obs.flags[2])
	}
}

func TestRecognitionStream_IdleClose(t *testing.T) {
	url := newFakeServer(t, func(r *http.Request, conn *websocket.Conn) {
		for {
			m, err := readFrame(conn)
			if err != nil {
				return
			}
			if m.msgType == msgTypeAudioOnlyClient && m.sequence < 0 {
				writeFrame(conn, asrFrame("好的", true, msgFlagNegSequence, -1))
				return
			}
		}
	})

	c := newTestClient(url, WithIdleTimeout(50*time.Millisecond))
	s := c.ASR.NewStream(nil)
	if err := s.Feed(make([]byte, 320)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}

	results, err := collectASR(t, s)
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if len(results) != 1 || results[0].Text != "好的" {
		t.Fatalf("results = %v", results)
	}
	if !s.PlannedClose() {
		t.Error("idle close should be planned")
	}
}

func TestRecognitionStream_ServerError(t *testing.T) {
	url := newFakeServer(t, func(r *http.Request, conn *websocket.Conn) {
		readFrame(conn) // full request
		readFrame(conn) // audio
		writeFrame(conn, &message{
			msgType:       msgTypeError,
			serialization: serializationJSON,
			compression:   compressionGzip,
			errorCode:     45000081,
			payload:       []byte(`{"message":"audio decode failed"}`),
		})
		drain(conn)
	})

	c := newTestClient(url, WithIdleTimeout(time.Minute))
	s := c.ASR.NewStream(nil)
	s.Feed(make([]byte, 320))

	_, err := collectASR(t, s)
	e, ok := AsError(err)
	if !ok {
		t.Fatalf("err = %v, want *Error", err)
	}
	if e.Code != 45000081 || e.Message != "audio decode failed" {
		t.Errorf("error = %+v", e)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("Close error: %v", err)
	}
}

func TestRecognitionStream_UnexpectedClose(t *testing.T) {
	url := newFakeServer(t, func(r *http.Request, conn *websocket.Conn) {
		readFrame(conn)
		readFrame(conn)
		// Drop the connection without a close frame.
		conn.UnderlyingConn().Close()
	})

	c := newTestClient(url, WithIdleTimeout(time.Minute))
	s := c.ASR.NewStream(nil)
	s.Feed(make([]byte, 320))

	_, err := collectASR(t, s)
	if !errors.Is(err, ErrUnexpectedClose) {
		t.Fatalf("err = %v, want ErrUnexpectedClose", err)
	}
	if s.PlannedClose() {
		t.Error("unexpected close reported as planned")
	}
	s.Close(context.Background())
}

func TestRecognitionStream_ReadTimeout(t *testing.T) {
	url := newFakeServer(t, func(r *http.Request, conn *websocket.Conn) {
		drain(conn)
	})

	c := newTestClient(url, WithIdleTimeout(time.Minute), WithReadTimeout(100*time.Millisecond))
	s := c.ASR.NewStream(nil)
	s.Feed(make([]byte, 320))

	_, err := collectASR(t, s)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	s.Close(context.Background())
}

func TestRecognitionStream_CloseWithoutFeed(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1")
	s := c.ASR.NewStream(nil)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	results, err := collectASR(t, s)
	if err != nil || len(results) != 0 {
		t.Fatalf("Recv = %v, %v", results, err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v", s.State())
	}
}

func TestRecognitionStream_RecvCanceled(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1")
	s := c.ASR.NewStream(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range s.Recv(ctx) {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	s.Close(context.Background())
}

func TestParseServerResponse(t *testing.T) {
	tests := []struct {
		name    string
		flags   messageTypeFlags
		seq     int32
		payload string
		want    *ASRResult
	}{
		{
			name:    "definite utterance",
			flags:   msgFlagPosSequence,
			seq:     3,
			payload: `{"result":{"text":"hello","utterances":[{"text":"hello","definite":true}]}}`,
			want:    &ASRResult{Text: "hello", IsFinal: true},
		},
		{
			name:    "utterance timestamps",
			flags:   msgFlagPosSequence,
			seq:     4,
			payload: `{"result":{"text":"hello","utterances":[{"text":"hello","definite":true,"start_time":0,"end_time":100}]}}`,
			want:    &ASRResult{Text: "hello", IsFinal: true, StartMs: ptr(0), EndMs: ptr(100)},
		},
		{
			name:    "utterance confidence overrides result",
			payload: `{"result":{"text":"hi","confidence":0.5,"utterances":[{"text":"hi","confidence":0.9}]}}`,
			want:    &ASRResult{Text: "hi", Confidence: ptr(0.9)},
		},
		{
			name:    "result confidence",
			payload: `{"result":{"text":"hi","confidence":0.5}}`,
			want:    &ASRResult{Text: "hi", Confidence: ptr(0.5)},
		},
		{
			name:    "partial",
			flags:   msgFlagPosSequence,
			seq:     3,
			payload: `{"result":{"text":"hel"}}`,
			want:    &ASRResult{Text: "hel"},
		},
		{
			name:    "last utterance wins",
			payload: `{"result":{"text":"a b","utterances":[{"text":"a"},{"text":"b"}]}}`,
			want:    &ASRResult{Text: "b"},
		},
		{
			name:    "negative sequence is final",
			flags:   msgFlagNegSequence,
			seq:     -5,
			payload: `{"result":{"text":"bye"}}`,
			want:    &ASRResult{Text: "bye", IsFinal: true},
		},
		{
			name:    "result is_final",
			payload: `{"result":{"text":"ok","is_final":true}}`,
			want:    &ASRResult{Text: "ok", IsFinal: true},
		},
		{name: "missing text", payload: `{"result":{"utterances":[]}}`},
		{name: "missing result", payload: `{"audio_info":{"duration":100}}`},
		{name: "not json", payload: `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseServerResponse(&message{
				msgType:  msgTypeFullServer,
				flags:    tt.flags,
				sequence: tt.seq,
				payload:  []byte(tt.payload),
			})
			if tt.want == nil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil")
			}
			if got.Text != tt.want.Text || got.IsFinal != tt.want.IsFinal {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if !ptrEqual(got.StartMs, tt.want.StartMs) || !ptrEqual(got.EndMs, tt.want.EndMs) {
				t.Errorf("times = %s..%s, want %s..%s",
					ptrString(got.StartMs), ptrString(got.EndMs), ptrString(tt.want.StartMs), ptrString(tt.want.EndMs))
			}
			if !ptrEqual(got.Confidence, tt.want.Confidence) {
				t.Errorf("confidence = %s, want %s", ptrString(got.Confidence), ptrString(tt.want.Confidence))
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrString[T any](p *T) string {
	if p == nil {
		return "nil"
	}
	return fmt.Sprint(*p)
}
