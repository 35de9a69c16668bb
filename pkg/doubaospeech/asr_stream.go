// 大模型流式语音识别
//
// Endpoint:
//   - WSS /api/v3/sauc/bigmodel_async
//
// 帧顺序:
//  1. full client request（JSON + gzip，无序号）
//  2. audio only request（gzip PCM，正序号从 2 开始）
//  3. 结束帧（flags=0b0011，负序号，gzip 空 PCM）
//
// Documentation: https://www.volcengine.com/docs/6561/1354869
package doubaospeech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/api/iterator"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/buffer"
)

// ASRService 流式语音识别服务
type ASRService struct {
	client *Client
}

// ASRConfig 流式识别配置
type ASRConfig struct {
	// SampleRate 采样率，默认 16000
	SampleRate int `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`

	// DisableITN 关闭逆文本归一化（默认开启）
	DisableITN bool `json:"disable_itn,omitempty" yaml:"disable_itn,omitempty"`

	// DisablePunc 关闭标点（默认开启）
	DisablePunc bool `json:"disable_punc,omitempty" yaml:"disable_punc,omitempty"`

	// EnableDDC 开启顺滑（去除语气词、重复词）
	EnableDDC bool `json:"enable_ddc,omitempty" yaml:"enable_ddc,omitempty"`

	// ResourceID 覆盖客户端的 ASR 资源 ID
	ResourceID string `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`

	// IdleTimeout 最后一次 Feed 之后多久自动结束，0 使用客户端默认值，负数关闭
	IdleTimeout time.Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}

// ASRResult 识别结果
type ASRResult struct {
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	StartMs    *int     `json:"start_ms,omitempty"`
	EndMs      *int     `json:"end_ms,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// StreamState 识别流状态
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateConnecting
	StateStreaming
	StateClosing
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("StreamState(%d)", int32(s))
}

type sendItem struct {
	pcm  []byte
	last bool
}

type recvItem struct {
	res *ASRResult
	err error
}

// RecognitionStream 一次流式识别连接
//
// 第一次 Feed 时才建立 WebSocket 连接。Feed 不阻塞：音频进入发送队列，
// 由写协程按序发送；读协程把解码后的结果推入结果队列，通过 Recv 迭代。
//
// 一个 RecognitionStream 只对应一个连接，关闭后需要新建。
type RecognitionStream struct {
	client    *Client
	config    ASRConfig
	connectID string
	logger    *slog.Logger

	sends   *buffer.Queue[sendItem]
	results *buffer.Queue[recvItem]

	state   atomic.Int32
	planned atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	started     bool
	finished    bool
	idle        *time.Timer
	idleTimeout time.Duration

	sentFrames atomic.Int64
	recvFrames atomic.Int64
}

// NewStream 创建识别流（不建立连接）
//
// Example:
//
//	stream := client.ASR.NewStream(&ASRConfig{SampleRate: 16000})
//	defer stream.Close(ctx)
//
//	go func() {
//	    for chunk := range mic {
//	        stream.Feed(chunk)
//	    }
//	    stream.Close(ctx)
//	}()
//
//	for res, err := range stream.Recv(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(res.Text, res.IsFinal)
//	}
func (s *ASRService) NewStream(config *ASRConfig) *RecognitionStream {
	var cfg ASRConfig
	if config != nil {
		cfg = *config
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = s.client.config.asrResourceID
	}
	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = s.client.config.idleTimeout
	}

	connectID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &RecognitionStream{
		client:      s.client,
		config:      cfg,
		connectID:   connectID,
		logger:      s.client.config.logger.With("component", "doubaospeech.asr", "connect_id", connectID),
		sends:       buffer.NewQueue[sendItem](64),
		results:     buffer.NewQueue[recvItem](16),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		idleTimeout: idle,
	}
}

// ConnectID 返回 X-Api-Connect-Id
func (s *RecognitionStream) ConnectID() string {
	return s.connectID
}

// State 返回当前状态
func (s *RecognitionStream) State() StreamState {
	return StreamState(s.state.Load())
}

// Feed 发送一段 PCM16 音频，第一次调用时建立连接
func (s *RecognitionStream) Feed(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrStreamClosed
	}
	if !s.started {
		s.started = true
		s.state.Store(int32(StateConnecting))
		go s.run()
	}
	if err := s.sends.Push(sendItem{pcm: append([]byte(nil), pcm...)}); err != nil {
		return ErrStreamClosed
	}
	s.resetIdleLocked()
	return nil
}

func (s *RecognitionStream) resetIdleLocked() {
	if s.idleTimeout <= 0 {
		return
	}
	if s.idle == nil {
		s.idle = time.AfterFunc(s.idleTimeout, s.onIdle)
		return
	}
	s.idle.Reset(s.idleTimeout)
}

func (s *RecognitionStream) onIdle() {
	s.logger.Debug("asr idle, closing")
	s.planned.Store(true)
	s.finish()
}

// PlanClose 标记即将发生的关闭是预期内的
func (s *RecognitionStream) PlanClose() {
	s.planned.Store(true)
}

// PlannedClose 关闭是否为预期内（空闲超时或 PlanClose）
func (s *RecognitionStream) PlannedClose() bool {
	return s.planned.Load()
}

// Done 在连接完全关闭后关闭
func (s *RecognitionStream) Done() <-chan struct{} {
	return s.done
}

// finish 请求结束：发送结束帧并停止接收新的音频
func (s *RecognitionStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if s.idle != nil {
		s.idle.Stop()
	}
	if !s.started {
		// 从未连接
		s.state.Store(int32(StateClosed))
		s.sends.Close()
		s.results.Close()
		s.cancel()
		close(s.done)
		return
	}
	s.sends.Push(sendItem{last: true})
	s.sends.Close()
}

// Close 发送结束帧，等待服务端最终结果（最多 FinishTimeout），然后关闭连接
//
// ctx 结束时强制关闭连接并返回 ctx.Err()。
func (s *RecognitionStream) Close(ctx context.Context) error {
	s.finish()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

// Recv 迭代识别结果
//
// 正常结束（Close 或空闲关闭）时迭代结束且不产生错误。可能的错误：
//   - ctx.Err()
//   - ErrUnexpectedClose: 识别过程中连接断开
//   - ErrTimeout: 读超时内没有收到任何帧
//   - *ProtocolError: 帧格式错误
//   - *Error: 服务端错误帧
func (s *RecognitionStream) Recv(ctx context.Context) iter.Seq2[*ASRResult, error] {
	return func(yield func(*ASRResult, error) bool) {
		for {
			item, err := s.results.Next(ctx)
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if item.err != nil {
				yield(nil, item.err)
				return
			}
			if !yield(item.res, nil) {
				return
			}
		}
	}
}

// run 写协程：建立连接、发送请求与音频、发送结束帧后等待读协程
func (s *RecognitionStream) run() {
	defer close(s.done)
	defer s.results.Close()
	defer s.sends.Close()
	defer s.cancel()

	conn, err := s.dial()
	if err != nil {
		s.state.Store(int32(StateClosed))
		s.results.Push(recvItem{err: err})
		return
	}

	readerDone := make(chan struct{})
	go s.readLoop(conn, readerDone)

	defer func() {
		s.state.Store(int32(StateClosing))
		conn.Close()
		<-readerDone
		s.state.Store(int32(StateClosed))
		s.logger.Info("asr closed",
			"sent_frames", s.sentFrames.Load(),
			"recv_frames", s.recvFrames.Load(),
			"planned", s.planned.Load())
	}()

	if err := s.writeMessage(conn, s.fullRequest()); err != nil {
		s.results.Push(recvItem{err: wrapError(err, "doubaospeech: send full request")})
		return
	}
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateStreaming))

	seq := int32(2)
	for {
		item, err := s.sends.Next(s.ctx)
		if err != nil {
			// 被取消或读协程出错
			return
		}
		if item.last {
			s.state.Store(int32(StateClosing))
			if err := s.writeMessage(conn, audioMessage(nil, seq, true)); err != nil {
				s.logger.Debug("asr send terminal frame failed", "error", err)
				return
			}
			s.logger.Debug("asr terminal frame sent", "seq", -seq)
			select {
			case <-readerDone:
			case <-time.After(s.client.config.finishTimeout):
			case <-s.ctx.Done():
			}
			return
		}
		if err := s.writeMessage(conn, audioMessage(item.pcm, seq, false)); err != nil {
			s.logger.Warn("asr send audio failed", "error", err)
			return
		}
		seq++
		if n := s.sentFrames.Add(1); n%20 == 0 {
			s.logger.Debug("asr audio frame sent", "idx", n, "pcm_bytes", len(item.pcm))
		}
	}
}

func (s *RecognitionStream) dial() (*websocket.Conn, error) {
	cfg := s.client.config
	headers := s.client.wsHeaders(s.config.ResourceID, s.connectID)
	s.logger.Info("asr connect",
		"url", cfg.asrURL,
		"app_key_set", cfg.appKey != "",
		"access_key_set", cfg.accessKey != "",
		"resource_id", s.config.ResourceID)

	conn, resp, err := cfg.dialer.DialContext(s.ctx, cfg.asrURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &Error{
				Code:    int32(resp.StatusCode),
				Message: fmt.Sprintf("websocket connect failed: %v, status=%s", err, resp.Status),
				LogID:   resp.Header.Get("X-Tt-Logid"),
			}
		}
		return nil, fmt.Errorf("doubaospeech: asr connect: %w", err)
	}
	return conn, nil
}

func (s *RecognitionStream) writeMessage(conn *websocket.Conn, msg *message) error {
	data, err := msg.marshal()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// fullRequest 构造 full client request
func (s *RecognitionStream) fullRequest() *message {
	req := map[string]any{
		"user": map[string]any{
			"uid": s.client.config.userID,
		},
		"audio": map[string]any{
			"format":  "pcm",
			"rate":    s.config.SampleRate,
			"bits":    16,
			"channel": 1,
		},
		"request": map[string]any{
			"model_name":  "bigmodel",
			"enable_itn":  !s.config.DisableITN,
			"enable_punc": !s.config.DisablePunc,
			"enable_ddc":  s.config.EnableDDC,
		},
	}
	payload, _ := json.Marshal(req)
	return &message{
		msgType:       msgTypeFullClient,
		flags:         msgFlagNoSequence,
		serialization: serializationJSON,
		compression:   compressionGzip,
		payload:       payload,
	}
}

// audioMessage 构造音频帧，last 为 true 时构造负序号结束帧
func audioMessage(pcm []byte, seq int32, last bool) *message {
	m := &message{
		msgType:       msgTypeAudioOnlyClient,
		flags:         msgFlagPosSequence,
		serialization: serializationNone,
		compression:   compressionGzip,
		sequence:      seq,
		payload:       pcm,
	}
	if last {
		m.flags = msgFlagNegSequence
		m.sequence = -seq
		m.payload = []byte{}
	}
	return m
}

// readLoop 读协程：解码服务端帧并推入结果队列
func (s *RecognitionStream) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		conn.SetReadDeadline(time.Now().Add(s.client.config.readTimeout))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			st := s.State()
			if st == StateClosing || st == StateClosed {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.fail(ErrTimeout)
			} else {
				s.fail(fmt.Errorf("%w: %v", ErrUnexpectedClose, err))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		s.recvFrames.Add(1)

		msg, err := unmarshal(data)
		if err != nil {
			s.fail(err)
			return
		}
		if msg.isError() {
			e := serverError(msg)
			s.logger.Error("asr server error frame", "code", e.Code, "message", e.Message)
			s.fail(e)
			return
		}
		if msg.msgType != msgTypeFullServer {
			continue
		}
		if res := parseServerResponse(msg); res != nil {
			s.logger.Debug("asr text frame", "text_len", len(res.Text), "final", res.IsFinal)
			s.results.Push(recvItem{res: res})
		}
		if msg.isLast() && s.State() == StateClosing {
			// 结束帧之后服务端的最后一包
			return
		}
	}
}

func (s *RecognitionStream) fail(err error) {
	s.results.Push(recvItem{err: err})
	s.cancel()
}

// asrResponse 服务端识别响应
type asrResponse struct {
	Result *struct {
		Text       string         `json:"text"`
		Definite   bool           `json:"definite"`
		IsFinal    bool           `json:"is_final"`
		Confidence *float64       `json:"confidence"`
		Utterances []asrUtterance `json:"utterances"`
	} `json:"result"`
}

type asrUtterance struct {
	Text       string   `json:"text"`
	StartTime  *int     `json:"start_time"`
	EndTime    *int     `json:"end_time"`
	Definite   bool     `json:"definite"`
	Confidence *float64 `json:"confidence"`
}

// parseServerResponse 解析 full server response
//
// 文本取最后一个 utterance，缺省回退到 result.text；没有文本时返回 nil。
func parseServerResponse(msg *message) *ASRResult {
	var resp asrResponse
	if err := json.Unmarshal(msg.payload, &resp); err != nil || resp.Result == nil {
		return nil
	}
	r := resp.Result

	var last *asrUtterance
	if n := len(r.Utterances); n > 0 {
		last = &r.Utterances[n-1]
	}

	res := &ASRResult{
		Text:       r.Text,
		Confidence: r.Confidence,
		IsFinal: r.Definite || r.IsFinal ||
			msg.flags&0b0011 == msgFlagNegSequence ||
			(msg.hasSequence() && msg.sequence < 0),
	}
	if last != nil {
		if last.Text != "" {
			res.Text = last.Text
		}
		res.StartMs = last.StartTime
		res.EndMs = last.EndTime
		res.IsFinal = res.IsFinal || last.Definite
		if last.Confidence != nil {
			res.Confidence = last.Confidence
		}
	}
	if res.Text == "" {
		return nil
	}
	return res
}
