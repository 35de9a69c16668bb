// Package voicews serves voice sessions over WebSocket.
//
// The client sends JSON text frames (start, audio, stop, ping) and receives
// the session's events as JSON text frames. Binary frames are accepted as
// raw 16 kHz PCM16 audio.
package voicews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/voicechat"
)

// End reasons used by the handler.
const (
	ReasonClosed   = "ws_closed"
	ReasonRestart  = "restart"
	ReasonShutdown = "shutdown"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20
)

// SessionRequest describes the session a client asked for.
type SessionRequest struct {
	ID string
	// OutputSampleRate is the requested tts rate, or zero.
	OutputSampleRate int
}

// SessionFactory creates the session for a start message. Events of the
// session must go to emitter.
type SessionFactory func(req SessionRequest, emitter voicechat.Emitter) (*voicechat.Session, error)

// Options configures a Handler.
type Options struct {
	NewSession SessionFactory

	// WriteTimeout bounds each frame written to the client.
	WriteTimeout time.Duration
	// ReadLimit is the largest client frame accepted, in bytes.
	ReadLimit int64
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// Handler upgrades HTTP requests to WebSocket and runs one voice session
// per connection at a time.
type Handler struct {
	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*voicechat.Session
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin:     opts.CheckOrigin,
		},
		log:      opts.Logger.With("component", "voicews"),
		sessions: make(map[string]*voicechat.Session),
	}
}

// Active returns the ids of the sessions currently running, sorted.
func (h *Handler) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown stops every running session.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	sessions := make([]*voicechat.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Stop(ctx, ReasonShutdown); err != nil && !errors.Is(err, voicechat.ErrSessionEnded) {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) track(s *voicechat.Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
	go func() {
		<-s.Done()
		h.mu.Lock()
		if h.sessions[s.ID()] == s {
			delete(h.sessions, s.ID())
		}
		h.mu.Unlock()
	}()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(h.opts.ReadLimit)

	c := &conn{
		h:   h,
		ws:  ws,
		log: h.log.With("remote", r.RemoteAddr),
	}
	c.log.Info("client connected")
	c.serve(r.Context())
	c.log.Info("client disconnected")
}

// errClosing ends the read loop after a stop message.
var errClosing = errors.New("voicews: closing")

type conn struct {
	h   *Handler
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex

	// Owned by the read loop.
	session      *voicechat.Session
	audioPackets int
}

var _ voicechat.Emitter = (*conn)(nil)

// Emit writes ev as one text frame. Writes are serialised per connection.
func (c *conn) Emit(ev voicechat.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("voicews: marshal %s: %w", ev.EventType(), err)
	}
	if c.log.Enabled(context.Background(), slog.LevelDebug) {
		c.log.Debug("ws->client", "event", summarize(ev))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *conn) serve(ctx context.Context) {
	defer c.stopSession(ReasonClosed)
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", "error", err)
			}
			return
		}

		var msg Message
		if typ == websocket.BinaryMessage {
			msg = AudioMessage{PCM: data}
		} else {
			msg, err = Decode(data)
			if err != nil {
				c.log.Debug("bad message", "error", err)
				c.Emit(voicechat.ErrorEvent{Code: voicechat.CodeBadMessage, Message: err.Error()})
				continue
			}
		}

		if err := c.handle(ctx, msg); err != nil {
			if errors.Is(err, errClosing) {
				return
			}
			c.log.Warn("handler failed", "type", msg.MessageType(), "error", err)
			c.Emit(voicechat.ErrorEvent{Code: voicechat.CodeHandlerFailure, Message: err.Error()})
		}
	}
}

func (c *conn) handle(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case StartMessage:
		c.stopSession(ReasonRestart)
		id := m.SessionID
		if id == "" {
			id = uuid.NewString()
		}
		s, err := c.h.opts.NewSession(SessionRequest{ID: id, OutputSampleRate: m.SampleRate}, c)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		c.session = s
		c.audioPackets = 0
		c.h.track(s)
		c.log.Info("session started", "session", id)
		return nil

	case AudioMessage:
		if c.session == nil {
			return c.Emit(voicechat.ErrorEvent{Code: voicechat.CodeNoSession, Message: "send start first"})
		}
		c.audioPackets++
		if c.audioPackets%50 == 0 {
			c.log.Debug("audio in", "session", c.session.ID(), "packets", c.audioPackets, "audio", m)
		}
		ts := time.Now().UnixMilli()
		if m.TsMs != nil {
			ts = *m.TsMs
		}
		err := c.session.FeedAudio(m.PCM, ts)
		if errors.Is(err, voicechat.ErrSessionEnded) {
			c.session = nil
			return c.Emit(voicechat.ErrorEvent{Code: voicechat.CodeNoSession, Message: "session ended"})
		}
		return err

	case StopMessage:
		reason := m.Reason
		if reason == "" {
			reason = voicechat.ReasonStop
		}
		c.stopSession(reason)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(c.h.opts.WriteTimeout))
		c.writeMu.Unlock()
		return errClosing

	case PingMessage:
		return c.Emit(voicechat.PongEvent{TsMs: time.Now().UnixMilli()})
	}
	return fmt.Errorf("unhandled message %T", msg)
}

func (c *conn) stopSession(reason string) {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Stop(ctx, reason); err != nil && !errors.Is(err, voicechat.ErrSessionEnded) {
		c.log.Warn("stop session", "session", s.ID(), "error", err)
	}
}

// summarize keeps audio and long texts out of the log.
func summarize(ev voicechat.Event) any {
	const maxText = 80
	short := func(s string) string {
		r := []rune(s)
		if len(r) <= maxText {
			return s
		}
		return string(r[:maxText]) + "..."
	}
	switch ev := ev.(type) {
	case voicechat.TTSEvent:
		return ev.LogValue()
	case voicechat.AssistantEvent:
		return slog.GroupValue(slog.String("type", ev.EventType()), slog.String("text", short(ev.Text)))
	case voicechat.ASREvent:
		return slog.GroupValue(
			slog.String("type", ev.EventType()),
			slog.Bool("is_final", ev.IsFinal),
			slog.String("text", short(ev.Text)),
		)
	}
	return ev
}
