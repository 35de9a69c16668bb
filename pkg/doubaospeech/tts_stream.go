// 大模型双向流式语音合成
//
// Endpoint:
//   - WSS /api/v3/tts/bidirection
//
// 事件流程:
//
//	StartConnection  ->  ConnectionStarted
//	StartSession     ->  SessionStarted
//	TaskRequest × N  ->  TTSSentenceStart / TTSResponse(音频) / TTSSentenceEnd
//	FinishSession    ->  SessionFinished
//	FinishConnection ->  ConnectionFinished
//
// Documentation: https://www.volcengine.com/docs/6561/1329505
package doubaospeech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/api/iterator"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/buffer"
)

const ttsNamespace = "BidirectionalTTS"

// TTSService 双向流式语音合成服务
type TTSService struct {
	client *Client
}

// TTSConfig 合成配置
type TTSConfig struct {
	// Speaker 音色，必须与资源 ID 匹配
	Speaker string `json:"speaker" yaml:"speaker"`

	// SampleRate 输出 PCM 采样率，默认 24000
	SampleRate int `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`

	// ResourceID 覆盖客户端的 TTS 资源 ID
	ResourceID string `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`

	// SpeechRate 语速 [-50, 100]，0 为正常
	SpeechRate int `json:"speech_rate,omitempty" yaml:"speech_rate,omitempty"`
}

type frameItem struct {
	msg *message
	err error
}

// SynthesisStream 一次双向流式合成连接（一个会话）
type SynthesisStream struct {
	client    *Client
	config    TTSConfig
	conn      *websocket.Conn
	connectID string
	sessionID string
	logger    *slog.Logger

	frames     *buffer.Queue[frameItem]
	readerDone chan struct{}

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
}

// OpenStream 建立连接并启动一个合成会话
//
// Example:
//
//	stream, err := client.TTS.OpenStream(ctx, &TTSConfig{Speaker: "zh_female_cancan_mars_bigtts"})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	stream.Send(ctx, "你好。")
//	stream.Send(ctx, "今天天气不错。")
//	stream.Finish(ctx)
//
//	for audio, err := range stream.Recv(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    play(audio)
//	}
func (s *TTSService) OpenStream(ctx context.Context, config *TTSConfig) (*SynthesisStream, error) {
	var cfg TTSConfig
	if config != nil {
		cfg = *config
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = s.client.config.ttsResourceID
	}

	connectID := uuid.NewString()
	logger := s.client.config.logger.With("component", "doubaospeech.tts", "connect_id", connectID)

	conn, resp, err := s.client.config.dialer.DialContext(ctx, s.client.config.ttsURL, s.client.wsHeaders(cfg.ResourceID, connectID))
	if err != nil {
		if resp != nil {
			return nil, &Error{
				Code:    int32(resp.StatusCode),
				Message: fmt.Sprintf("websocket connect failed: %v, status=%s", err, resp.Status),
				LogID:   resp.Header.Get("X-Tt-Logid"),
			}
		}
		return nil, fmt.Errorf("doubaospeech: tts connect: %w", err)
	}

	stream := &SynthesisStream{
		client:     s.client,
		config:     cfg,
		conn:       conn,
		connectID:  connectID,
		logger:     logger,
		frames:     buffer.NewQueue[frameItem](32),
		readerDone: make(chan struct{}),
	}
	go stream.readLoop()

	if err := stream.handshake(ctx); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// Stream 单次合成：一个连接、一个会话、一段文本
func (s *TTSService) Stream(ctx context.Context, config *TTSConfig, text string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		stream, err := s.OpenStream(ctx, config)
		if err != nil {
			yield(nil, err)
			return
		}
		defer stream.Close()

		if err := stream.Send(ctx, text); err != nil {
			yield(nil, err)
			return
		}
		if err := stream.Finish(ctx); err != nil {
			yield(nil, err)
			return
		}
		for audio, err := range stream.Recv(ctx) {
			if !yield(audio, err) || err != nil {
				return
			}
		}
	}
}

// SessionID 返回当前会话 ID
func (s *SynthesisStream) SessionID() string {
	return s.sessionID
}

// SampleRate 返回输出 PCM 采样率
func (s *SynthesisStream) SampleRate() int {
	return s.config.SampleRate
}

func (s *SynthesisStream) handshake(ctx context.Context) error {
	timeout := s.client.config.handshakeTimeout

	if err := s.sendEvent(ctx, eventStartConnection, "", []byte("{}")); err != nil {
		return wrapError(err, "doubaospeech: start connection")
	}
	if err := s.waitEvent(ctx, timeout, eventConnectionStarted, eventConnectionFailed); err != nil {
		return err
	}

	s.sessionID = uuid.NewString()
	s.logger = s.logger.With("session_id", s.sessionID)
	payload, err := s.requestPayload(eventStartSession, "")
	if err != nil {
		return err
	}
	if err := s.sendEvent(ctx, eventStartSession, s.sessionID, payload); err != nil {
		return wrapError(err, "doubaospeech: start session")
	}
	if err := s.waitEvent(ctx, timeout, eventSessionStarted, eventSessionFailed); err != nil {
		return err
	}
	s.logger.Debug("tts session started")
	return nil
}

// waitEvent 等待 want 事件；failed 事件或错误帧返回 *Error，
// session id 不符返回 *ProtocolError
func (s *SynthesisStream) waitEvent(ctx context.Context, timeout time.Duration, want, failed event) error {
	for {
		msg, err := s.nextFrame(ctx, timeout)
		if err != nil {
			return err
		}
		switch {
		case msg.isError(), msg.event == failed:
			return serverError(msg)
		case msg.event == want:
			if want.sessionScoped() && msg.sessionID != s.sessionID {
				return protocolErr("session id", fmt.Errorf("%s for session %q, want %q", want, msg.sessionID, s.sessionID))
			}
			return nil
		}
	}
}

// nextFrame 取下一帧，timeout 内没有帧返回 ErrTimeout
func (s *SynthesisStream) nextFrame(ctx context.Context, timeout time.Duration) (*message, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	item, err := s.frames.Next(tctx)
	switch {
	case err == nil:
	case errors.Is(err, iterator.Done):
		return nil, ErrStreamClosed
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nil, ErrTimeout
	default:
		return nil, err
	}
	if item.err != nil {
		return nil, item.err
	}
	return item.msg, nil
}

func (s *SynthesisStream) requestPayload(ev event, text string) ([]byte, error) {
	params := map[string]any{
		"speaker": s.config.Speaker,
		"audio_params": map[string]any{
			"format":      "pcm",
			"sample_rate": s.config.SampleRate,
			"speech_rate": s.config.SpeechRate,
		},
	}
	if text != "" {
		params["text"] = text
	}
	return json.Marshal(map[string]any{
		"user":       map[string]any{"uid": s.client.config.userID},
		"event":      int32(ev),
		"namespace":  ttsNamespace,
		"req_params": params,
	})
}

// Send 发送一段待合成文本（TaskRequest）
func (s *SynthesisStream) Send(ctx context.Context, text string) error {
	payload, err := s.requestPayload(eventTaskRequest, text)
	if err != nil {
		return err
	}
	if err := s.sendEvent(ctx, eventTaskRequest, s.sessionID, payload); err != nil {
		return wrapError(err, "doubaospeech: task request")
	}
	return nil
}

// Finish 结束会话（FinishSession），服务端合成完剩余文本后回复 SessionFinished
func (s *SynthesisStream) Finish(ctx context.Context) error {
	if err := s.sendEvent(ctx, eventFinishSession, s.sessionID, []byte("{}")); err != nil {
		return wrapError(err, "doubaospeech: finish session")
	}
	return nil
}

// Recv 迭代合成的 PCM 音频，收到 SessionFinished 时结束
func (s *SynthesisStream) Recv(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			msg, err := s.nextFrame(ctx, s.client.config.readTimeout)
			if err != nil {
				yield(nil, err)
				return
			}
			switch {
			case msg.isError(), msg.event == eventSessionFailed, msg.event == eventConnectionFailed:
				e := serverError(msg)
				s.logger.Error("tts server error", "code", e.Code, "message", e.Message, "event", e.Event)
				yield(nil, e)
				return
			case msg.event == eventTTSResponse && msg.isAudioOnly():
				if msg.sessionID != s.sessionID {
					yield(nil, protocolErr("session id", fmt.Errorf("audio for session %q, want %q", msg.sessionID, s.sessionID)))
					return
				}
				if len(msg.payload) == 0 {
					continue
				}
				if !yield(msg.payload, nil) {
					return
				}
			case msg.event == eventSessionFinished:
				if msg.sessionID == s.sessionID {
					return
				}
			case msg.event == eventTTSSentenceStart, msg.event == eventTTSSentenceEnd:
				s.logger.Debug("tts sentence", "event", msg.event.String())
			}
		}
	}
}

// Close 尽力发送 FinishConnection 后关闭连接，可重复调用
func (s *SynthesisStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if werr := s.sendEvent(ctx, eventFinishConnection, "", []byte("{}")); werr != nil {
			s.logger.Debug("tts finish connection failed", "error", werr)
		}
		s.closing.Store(true)
		err = s.conn.Close()
		<-s.readerDone
		s.frames.Close()
	})
	return err
}

func (s *SynthesisStream) sendEvent(ctx context.Context, ev event, sessionID string, payload []byte) error {
	msg := &message{
		msgType:       msgTypeFullClient,
		flags:         msgFlagWithEvent,
		serialization: serializationJSON,
		compression:   compressionNone,
		event:         ev,
		sessionID:     sessionID,
		payload:       payload,
	}
	data, err := msg.marshal()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	} else {
		s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// readLoop 读协程：解码帧并推入帧队列
func (s *SynthesisStream) readLoop() {
	defer close(s.readerDone)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing.Load() {
				s.frames.Push(frameItem{err: fmt.Errorf("%w: %v", ErrUnexpectedClose, err)})
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		msg, err := unmarshal(data)
		if err != nil {
			s.frames.Push(frameItem{err: err})
			return
		}
		s.frames.Push(frameItem{msg: msg})
	}
}
