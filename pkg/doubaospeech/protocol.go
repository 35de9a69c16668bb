package doubaospeech

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ================== 协议常量 ==================

type messageType byte
type messageTypeFlags byte
type serializationType byte
type compressionType byte

const (
	protocolVersionV1 byte = 0b0001
	headerWords       byte = 1 // 头长度，单位 4 字节

	// Message Types
	msgTypeFullClient      messageType = 0b0001
	msgTypeAudioOnlyClient messageType = 0b0010
	msgTypeFullServer      messageType = 0b1001
	msgTypeAudioOnlyServer messageType = 0b1011
	msgTypeError           messageType = 0b1111

	// Message Type Specific Flags
	msgFlagNoSequence  messageTypeFlags = 0b0000
	msgFlagPosSequence messageTypeFlags = 0b0001 // 携带正序号
	msgFlagLastNoSeq   messageTypeFlags = 0b0010 // 最后一包，不带序号
	msgFlagNegSequence messageTypeFlags = 0b0011 // 最后一包，携带负序号
	msgFlagWithEvent   messageTypeFlags = 0b0100

	// Serialization Types
	serializationNone serializationType = 0b0000
	serializationJSON serializationType = 0b0001

	// Compression Types
	compressionNone compressionType = 0b0000
	compressionGzip compressionType = 0b0001
)

// event 双向流式 TTS 事件码
type event int32

const (
	eventNone event = 0

	eventStartConnection    event = 1
	eventFinishConnection   event = 2
	eventConnectionStarted  event = 50
	eventConnectionFailed   event = 51
	eventConnectionFinished event = 52

	eventStartSession    event = 100
	eventFinishSession   event = 102
	eventSessionStarted  event = 150
	eventSessionFinished event = 152
	eventSessionFailed   event = 153

	eventTaskRequest      event = 200
	eventTTSSentenceStart event = 350
	eventTTSSentenceEnd   event = 351
	eventTTSResponse      event = 352
)

func (e event) String() string {
	switch e {
	case eventStartConnection:
		return "StartConnection"
	case eventFinishConnection:
		return "FinishConnection"
	case eventConnectionStarted:
		return "ConnectionStarted"
	case eventConnectionFailed:
		return "ConnectionFailed"
	case eventConnectionFinished:
		return "ConnectionFinished"
	case eventStartSession:
		return "StartSession"
	case eventFinishSession:
		return "FinishSession"
	case eventSessionStarted:
		return "SessionStarted"
	case eventSessionFinished:
		return "SessionFinished"
	case eventSessionFailed:
		return "SessionFailed"
	case eventTaskRequest:
		return "TaskRequest"
	case eventTTSSentenceStart:
		return "TTSSentenceStart"
	case eventTTSSentenceEnd:
		return "TTSSentenceEnd"
	case eventTTSResponse:
		return "TTSResponse"
	}
	return fmt.Sprintf("Event(%d)", int32(e))
}

// connectionScoped 连接级事件（服务端回包携带 connect id）
func (e event) connectionScoped() bool {
	return e == eventConnectionStarted || e == eventConnectionFailed || e == eventConnectionFinished
}

// sessionScoped 会话级事件（携带 session id）
func (e event) sessionScoped() bool {
	return e >= eventStartSession
}

// ================== 协议结构 ==================

// message 协议消息
//
// 帧格式:
//   - Header (headerWords × 4 bytes):
//   - (4bits) version + (4bits) header_size
//   - (4bits) message_type + (4bits) message_type_flags
//   - (4bits) serialization + (4bits) compression
//   - (8bits) reserved
//   - [optional] sequence (int32)，或错误帧的 error code (int32)
//   - [optional] event (int32)
//   - [optional] session_id / connect_id (uint32 len + data)
//   - payload_size (uint32) + payload
//
// 所有数值均为大端序。payload 字段始终保存解压后的数据。
type message struct {
	msgType       messageType
	flags         messageTypeFlags
	serialization serializationType
	compression   compressionType

	sequence  int32
	errorCode int32
	event     event
	sessionID string
	connectID string
	payload   []byte
}

// hasSequence 正序号或负序号
func (m *message) hasSequence() bool {
	return m.msgType != msgTypeError && m.flags&0b0011 != 0 && m.flags&0b0011 != msgFlagLastNoSeq
}

func (m *message) hasEvent() bool {
	return m.flags&msgFlagWithEvent != 0
}

// isLast 服务端标记的最后一包
func (m *message) isLast() bool {
	return m.flags&0b0011 == msgFlagLastNoSeq || m.flags&0b0011 == msgFlagNegSequence
}

func (m *message) isError() bool {
	return m.msgType == msgTypeError
}

func (m *message) isAudioOnly() bool {
	return m.msgType == msgTypeAudioOnlyServer || m.msgType == msgTypeAudioOnlyClient
}

// marshal 序列化消息
func (m *message) marshal() ([]byte, error) {
	payload := m.payload
	if m.compression == compressionGzip {
		compressed, err := gzipCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		payload = compressed
	}

	buf := bytes.NewBuffer(make([]byte, 0, 16+len(m.sessionID)+len(payload)))
	buf.WriteByte(protocolVersionV1<<4 | headerWords)
	buf.WriteByte(byte(m.msgType)<<4 | byte(m.flags))
	buf.WriteByte(byte(m.serialization)<<4 | byte(m.compression))
	buf.WriteByte(0x00) // reserved

	if m.isError() {
		binary.Write(buf, binary.BigEndian, m.errorCode)
	} else if m.hasSequence() {
		binary.Write(buf, binary.BigEndian, m.sequence)
	}

	if m.hasEvent() {
		binary.Write(buf, binary.BigEndian, int32(m.event))
		switch {
		case m.event.sessionScoped():
			writeString(buf, m.sessionID)
		case m.event.connectionScoped():
			writeString(buf, m.connectID)
		}
	}

	binary.Write(buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

// unmarshal 反序列化消息
func unmarshal(data []byte) (*message, error) {
	r := &frameReader{data: data}

	head, err := r.next(4)
	if err != nil {
		return nil, protocolErr("header", err)
	}
	if v := head[0] >> 4; v != protocolVersionV1 {
		return nil, protocolErr("header", fmt.Errorf("unsupported version %d", v))
	}
	words := int(head[0] & 0x0f)
	if words < 1 {
		return nil, protocolErr("header", fmt.Errorf("invalid header size %d", words))
	}
	// 跳过扩展头
	if _, err := r.next((words - 1) * 4); err != nil {
		return nil, protocolErr("header extension", err)
	}

	m := &message{
		msgType:       messageType(head[1] >> 4),
		flags:         messageTypeFlags(head[1] & 0x0f),
		serialization: serializationType(head[2] >> 4),
		compression:   compressionType(head[2] & 0x0f),
	}

	if m.isError() {
		if m.errorCode, err = r.int32(); err != nil {
			return nil, protocolErr("error code", err)
		}
	} else if m.hasSequence() {
		if m.sequence, err = r.int32(); err != nil {
			return nil, protocolErr("sequence", err)
		}
	}

	if m.hasEvent() {
		ev, err := r.int32()
		if err != nil {
			return nil, protocolErr("event", err)
		}
		m.event = event(ev)
		switch {
		case m.event.sessionScoped():
			if m.sessionID, err = r.string(); err != nil {
				return nil, protocolErr("session id", err)
			}
		case m.event.connectionScoped():
			if m.connectID, err = r.string(); err != nil {
				return nil, protocolErr("connect id", err)
			}
		}
	}

	size, err := r.uint32()
	if err != nil {
		return nil, protocolErr("payload size", err)
	}
	payload, err := r.next(int(size))
	if err != nil {
		return nil, protocolErr("payload", err)
	}
	if m.compression == compressionGzip && len(payload) > 0 {
		if payload, err = gzipDecompress(payload); err != nil {
			return nil, protocolErr("gzip decompress", err)
		}
	}
	m.payload = payload
	return m, nil
}

// frameReader 带边界检查的顺序读取器
type frameReader struct {
	data []byte
	off  int
}

var errShortFrame = errors.New("frame truncated")

func (r *frameReader) next(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.off < n {
		return nil, errShortFrame
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *frameReader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *frameReader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *frameReader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// gzipCompress gzip 压缩
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gzipDecompress gzip 解压
func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
