package doubaospeech

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultASRURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	defaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/bidirection"

	defaultHandshakeTimeout = 15 * time.Second
	defaultReadTimeout      = 30 * time.Second
	defaultFinishTimeout    = time.Second
	defaultIdleTimeout      = 5 * time.Second
)

// V3 API Resource IDs
const (
	// TTS Resource IDs
	ResourceTTSV1       = "seed-tts-1.0"         // 大模型 TTS 1.0 (字符版)
	ResourceTTSV1Concur = "seed-tts-1.0-concurr" // 大模型 TTS 1.0 (并发版)
	ResourceTTSV2       = "seed-tts-2.0"         // 大模型 TTS 2.0 (字符版)

	// ASR Resource IDs
	ResourceASRStream   = "volc.bigasr.sauc.duration"  // 大模型流式语音识别 (时长版)
	ResourceASRStreamV2 = "volc.seedasr.sauc.duration" // 大模型流式语音识别 2.0
)

// Client 豆包语音客户端
type Client struct {
	ASR *ASRService // 流式语音识别 (/api/v3/sauc/*)
	TTS *TTSService // 双向流式语音合成 (/api/v3/tts/bidirection)

	config *clientConfig
}

// clientConfig 客户端配置
type clientConfig struct {
	appKey        string // X-Api-App-Key
	accessKey     string // X-Api-Access-Key
	asrResourceID string
	ttsResourceID string
	asrURL        string
	ttsURL        string
	userID        string

	handshakeTimeout time.Duration
	readTimeout      time.Duration
	finishTimeout    time.Duration
	idleTimeout      time.Duration

	dialer *websocket.Dialer
	logger *slog.Logger
}

// Option 客户端配置项
type Option func(*clientConfig)

// NewClient 创建豆包语音客户端
//
// appKey 为火山引擎控制台中的 APP ID，作为 X-Api-App-Key 发送。
func NewClient(appKey string, opts ...Option) *Client {
	config := &clientConfig{
		appKey:           appKey,
		asrResourceID:    ResourceASRStream,
		ttsResourceID:    ResourceTTSV1,
		asrURL:           defaultASRURL,
		ttsURL:           defaultTTSURL,
		userID:           "default_user",
		handshakeTimeout: defaultHandshakeTimeout,
		readTimeout:      defaultReadTimeout,
		finishTimeout:    defaultFinishTimeout,
		idleTimeout:      defaultIdleTimeout,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.dialer == nil {
		config.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.handshakeTimeout,
		}
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}

	c := &Client{config: config}
	c.ASR = &ASRService{client: c}
	c.TTS = &TTSService{client: c}
	return c
}

// WithV2APIKey 使用 V3 API Key 认证
//
// Header:
//   - X-Api-Access-Key: {accessKey}
//   - X-Api-App-Key: {appKey}
func WithV2APIKey(accessKey, appKey string) Option {
	return func(c *clientConfig) {
		c.accessKey = accessKey
		if appKey != "" {
			c.appKey = appKey
		}
	}
}

// WithAccessKey 设置 X-Api-Access-Key
func WithAccessKey(accessKey string) Option {
	return func(c *clientConfig) {
		c.accessKey = accessKey
	}
}

// WithASRResourceID 设置 ASR 资源 ID（默认 volc.bigasr.sauc.duration）
func WithASRResourceID(resourceID string) Option {
	return func(c *clientConfig) {
		if resourceID != "" {
			c.asrResourceID = resourceID
		}
	}
}

// WithTTSResourceID 设置 TTS 资源 ID（默认 seed-tts-1.0）
func WithTTSResourceID(resourceID string) Option {
	return func(c *clientConfig) {
		if resourceID != "" {
			c.ttsResourceID = resourceID
		}
	}
}

// WithASRURL 设置流式识别 WebSocket 地址
func WithASRURL(url string) Option {
	return func(c *clientConfig) {
		if url != "" {
			c.asrURL = url
		}
	}
}

// WithTTSURL 设置双向流式合成 WebSocket 地址
func WithTTSURL(url string) Option {
	return func(c *clientConfig) {
		if url != "" {
			c.ttsURL = url
		}
	}
}

// WithWebSocketURL 同时设置 ASR 与 TTS 的 WebSocket 基础地址
//
// 例如 ws://127.0.0.1:8080，会拼接各服务的标准路径。
func WithWebSocketURL(base string) Option {
	return func(c *clientConfig) {
		c.asrURL = base + "/api/v3/sauc/bigmodel_async"
		c.ttsURL = base + "/api/v3/tts/bidirection"
	}
}

// WithUserID 设置用户标识
func WithUserID(userID string) Option {
	return func(c *clientConfig) {
		c.userID = userID
	}
}

// WithHandshakeTimeout 设置连接握手超时（默认 15s）
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithReadTimeout 设置稳态读帧超时（默认 30s）
func WithReadTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithFinishTimeout 设置发送结束帧后等待服务端最终结果的时间（默认 1s）
func WithFinishTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.finishTimeout = d
		}
	}
}

// WithIdleTimeout 设置识别流空闲自动关闭时间（默认 5s）
func WithIdleTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithDialer 设置自定义 WebSocket Dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *clientConfig) {
		c.dialer = d
	}
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// wsHeaders 返回 V3 WebSocket 请求头
func (c *Client) wsHeaders(resourceID, connectID string) http.Header {
	headers := http.Header{}
	headers.Set("X-Api-App-Key", c.config.appKey)
	headers.Set("X-Api-Access-Key", c.config.accessKey)
	if resourceID != "" {
		headers.Set("X-Api-Resource-Id", resourceID)
	}
	if connectID != "" {
		headers.Set("X-Api-Connect-Id", connectID)
	}
	return headers
}
