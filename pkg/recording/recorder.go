package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stargazerkiyoshi/realtime-voice/pkg/audio/pcm"
)

// DefaultMaxDuration caps how much audio a Recorder keeps.
const DefaultMaxDuration = 30 * time.Minute

// ErrFinished is returned by Write after Finish.
var ErrFinished = errors.New("recording: recorder finished")

// Recorder accumulates PCM audio for one session and stores it as a WAV
// file when finished. The header sizes are only known at that point, so the
// audio is kept in memory until then.
type Recorder struct {
	store  Store
	path   string
	format pcm.Format
	limit  int
	logger *slog.Logger

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
	finished  bool
}

// RecorderOptions configures NewRecorder.
type RecorderOptions struct {
	// Format of the audio passed to Write. The zero value is 16 kHz mono.
	Format pcm.Format
	// MaxDuration of audio kept; later audio is dropped. Zero means
	// DefaultMaxDuration.
	MaxDuration time.Duration
	Logger      *slog.Logger
}

// NewRecorder creates a Recorder writing to path in store.
func NewRecorder(store Store, path string, opts RecorderOptions) *Recorder {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		path:   path,
		format: opts.Format,
		limit:  int(opts.Format.BytesInDuration(opts.MaxDuration)),
		logger: opts.Logger,
	}
}

// SessionPath returns the path a session's recording is stored under.
func SessionPath(sessionID string, started time.Time) string {
	return started.UTC().Format("2006/01/02") + "/" + sessionID + ".wav"
}

// Write appends PCM audio.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return 0, ErrFinished
	}
	room := r.limit - r.buf.Len()
	if room < len(p) {
		if !r.truncated {
			r.truncated = true
			r.logger.Warn("recording truncated", "path", r.path, "limit", r.format.Duration(int64(r.limit)))
		}
		r.buf.Write(p[:max(room, 0)])
		return len(p), nil
	}
	r.buf.Write(p)
	return len(p), nil
}

// Duration returns the length of the audio recorded so far.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.Duration(int64(r.buf.Len()))
}

// Finish stores the WAV file and returns its location. A recorder that
// captured no audio stores nothing and returns "".
func (r *Recorder) Finish(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return "", ErrFinished
	}
	r.finished = true
	data := r.buf.Bytes()
	r.mu.Unlock()

	if len(data) == 0 {
		return "", nil
	}
	w, err := r.store.Write(ctx, r.path)
	if err != nil {
		return "", fmt.Errorf("recording: open %s: %w", r.path, err)
	}
	hdr, err := r.format.Header(len(data)).MarshalBinary()
	if err != nil {
		w.Close()
		return "", err
	}
	if _, err := w.Write(hdr); err != nil {
		w.Close()
		return "", fmt.Errorf("recording: write %s: %w", r.path, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("recording: write %s: %w", r.path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("recording: close %s: %w", r.path, err)
	}
	loc := r.store.Location(r.path)
	r.logger.Info("recording stored", "location", loc, "duration", r.format.Duration(int64(len(data))))
	return loc, nil
}
