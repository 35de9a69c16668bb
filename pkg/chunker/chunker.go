// Package chunker groups a stream of language-model text deltas into chunks
// sized for speech synthesis.
//
// The first chunk of a turn is cut early so audio can start quickly: by
// default it ends at FirstMinChars runes, or earlier on punctuation sitting
// exactly there. Later chunks end at terminal punctuation found at or after
// MinChars, or are hard-cut at MaxChars.
package chunker

import "strings"

// Config sets chunk lengths in runes. Zero fields take the defaults.
type Config struct {
	// FirstMinChars is the earliest position at which punctuation may end the
	// first chunk of a turn.
	FirstMinChars int `json:"first_min_chars,omitempty" yaml:"first_min_chars,omitempty"`
	// FirstMaxChars hard-cuts the first chunk when no punctuation qualifies.
	// It defaults to FirstMinChars; raise it to let the first chunk run on to
	// a later punctuation mark.
	FirstMaxChars int `json:"first_max_chars,omitempty" yaml:"first_max_chars,omitempty"`
	MinChars      int `json:"min_chars,omitempty" yaml:"min_chars,omitempty"`
	MaxChars      int `json:"max_chars,omitempty" yaml:"max_chars,omitempty"`
}

const (
	DefaultFirstMinChars = 4
	DefaultMinChars      = 8
	DefaultMaxChars      = 40
)

func (c Config) withDefaults() Config {
	if c.FirstMinChars <= 0 {
		c.FirstMinChars = DefaultFirstMinChars
	}
	if c.FirstMaxChars <= 0 {
		c.FirstMaxChars = c.FirstMinChars
	}
	if c.MinChars <= 0 {
		c.MinChars = DefaultMinChars
	}
	if c.MaxChars <= 0 {
		c.MaxChars = max(DefaultMaxChars, c.MinChars)
	}
	c.FirstMaxChars = max(c.FirstMaxChars, c.FirstMinChars)
	c.MaxChars = max(c.MaxChars, c.MinChars)
	return c
}

// Chunker accumulates deltas and emits synthesis-sized chunks.
//
// Emitted chunks, concatenated in order together with the final Flush,
// reproduce the pushed text exactly (a whitespace-only remainder is the one
// thing Flush drops). A Chunker is not safe for concurrent use.
type Chunker struct {
	cfg       Config
	buf       []rune
	firstSent bool
}

// New creates a Chunker.
func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

// IsBoundary reports whether r ends a chunk.
func IsBoundary(r rune) bool {
	switch r {
	case '。', '！', '？', '?', '!', ';', '\n':
		return true
	}
	return false
}

// Push appends delta and returns any chunks that became complete.
func (c *Chunker) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	c.buf = append(c.buf, []rune(delta)...)

	var out []string
	for {
		n := c.cut()
		if n == 0 {
			return out
		}
		out = append(out, string(c.buf[:n]))
		c.buf = append(c.buf[:0], c.buf[n:]...)
		c.firstSent = true
	}
}

// cut returns the length of the next complete chunk, or 0 if none is ready.
func (c *Chunker) cut() int {
	minChars, maxChars := c.cfg.MinChars, c.cfg.MaxChars
	if !c.firstSent {
		minChars, maxChars = c.cfg.FirstMinChars, c.cfg.FirstMaxChars
	}
	for i := minChars - 1; i < len(c.buf) && i < maxChars; i++ {
		if IsBoundary(c.buf[i]) {
			return i + 1
		}
	}
	if len(c.buf) >= maxChars {
		return maxChars
	}
	return 0
}

// Flush returns the buffered remainder as a final chunk, unless it is empty
// or whitespace, and readies the Chunker for the next turn.
func (c *Chunker) Flush() (string, bool) {
	rest := string(c.buf)
	c.buf = c.buf[:0]
	c.firstSent = false
	if strings.TrimSpace(rest) == "" {
		return "", false
	}
	return rest, true
}

// Pending returns the number of buffered runes.
func (c *Chunker) Pending() int {
	return len(c.buf)
}
