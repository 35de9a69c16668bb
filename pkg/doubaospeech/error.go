package doubaospeech

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedClose 流式识别过程中连接被意外关闭
	ErrUnexpectedClose = errors.New("doubaospeech: connection closed unexpectedly")

	// ErrTimeout 在读超时内未收到任何帧
	ErrTimeout = errors.New("doubaospeech: read timeout")

	// ErrStreamClosed 流已关闭
	ErrStreamClosed = errors.New("doubaospeech: stream closed")
)

// Error 豆包语音服务端错误
type Error struct {
	// Code 业务错误码（错误帧中的 int32 错误码）
	Code int32 `json:"code"`

	// Message 错误消息
	Message string `json:"message"`

	// Event 出错时的事件（仅双向 TTS）
	Event string `json:"event,omitempty"`

	// LogID 日志 ID（从响应头 X-Tt-Logid 获取）
	LogID string `json:"log_id,omitempty"`
}

func (e *Error) Error() string {
	s := fmt.Sprintf("doubaospeech: %s (code=%d", e.Message, e.Code)
	if e.Event != "" {
		s += ", event=" + e.Event
	}
	if e.LogID != "" {
		s += ", log_id=" + e.LogID
	}
	return s + ")"
}

// IsAuthError 是否为认证错误
func (e *Error) IsAuthError() bool {
	return e.Code == CodeAuthError || e.Code == 45000010
}

// IsRateLimit 是否为限流错误
func (e *Error) IsRateLimit() bool {
	return e.Code == CodeRateLimit || e.Code == 45000292
}

// Retryable 是否可重试
func (e *Error) Retryable() bool {
	return e.IsRateLimit() || e.Code == CodeServerError || e.Code == 55000031
}

// AsError 尝试将 error 转换为 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// API 响应状态码
const (
	CodeSuccess     = 3000 // 成功
	CodeParamError  = 3001 // 参数错误
	CodeAuthError   = 3002 // 认证失败
	CodeRateLimit   = 3003 // 频率限制
	CodeQuotaExceed = 3004 // 余额不足
	CodeServerError = 3005 // 服务内部错误
)

// ProtocolError 二进制帧格式错误
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("doubaospeech: protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErr(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}

// serverError 从错误帧构造 *Error
//
// 错误帧 payload 通常是 {"message": "..."} 或 {"error": "..."}，
// 无法解析时原样作为错误消息。
func serverError(msg *message) *Error {
	e := &Error{Code: msg.errorCode}
	if msg.event != eventNone {
		e.Event = msg.event.String()
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(msg.payload, &body); err == nil {
		e.Message = body.Message
		if e.Message == "" {
			e.Message = body.Error
		}
	}
	if e.Message == "" {
		e.Message = string(msg.payload)
	}
	return e
}

// wrapError 包装错误
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
