package session

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Chunk is one flushed slice of a generated reply.
type Chunk struct {
	Text    string
	IsFinal bool
}

type ChunkerConfig struct {
	MinChars int
	MaxHold  time.Duration
}

func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MinChars: 50,
		MaxHold:  500 * time.Millisecond,
	}
}

// ResponseChunker turns streamed reply fragments into chunks sized for
// synthesis. It is deterministic given its clock; pass nil to use time.Now.
type ResponseChunker struct {
	cfg ChunkerConfig
	now func() time.Time

	buf       strings.Builder
	lastFlush time.Time
}

func NewResponseChunker(cfg ChunkerConfig, now func() time.Time) *ResponseChunker {
	def := DefaultChunkerConfig()
	if cfg.MinChars <= 0 {
		cfg.MinChars = def.MinChars
	}
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = def.MaxHold
	}
	if now == nil {
		now = time.Now
	}
	return &ResponseChunker{cfg: cfg, now: now, lastFlush: now()}
}

// Feed buffers fragment and reports a non-final chunk when the flush policy
// fires. The policy is only consulted while the buffer ends on whitespace or
// a sentence boundary, so words are never split.
func (c *ResponseChunker) Feed(fragment string) (Chunk, bool) {
	if fragment == "" {
		return Chunk{}, false
	}
	c.buf.WriteString(fragment)
	buf := c.buf.String()

	last, _ := utf8.DecodeLastRuneInString(buf)
	if !unicode.IsSpace(last) && !isSentenceBoundary(last) {
		return Chunk{}, false
	}
	trimmed := strings.TrimSpace(buf)
	if trimmed == "" {
		return Chunk{}, false
	}
	end, _ := utf8.DecodeLastRuneInString(trimmed)
	now := c.now()
	if runeLen(buf) < c.cfg.MinChars && !isSentenceBoundary(end) && now.Sub(c.lastFlush) < c.cfg.MaxHold {
		return Chunk{}, false
	}

	c.buf.Reset()
	c.lastFlush = now
	return Chunk{Text: trimmed}, true
}

// Finish flushes whatever remains as the reply's final chunk. It always
// returns a chunk, with empty text when nothing is buffered.
func (c *ResponseChunker) Finish() Chunk {
	text := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	c.lastFlush = c.now()
	return Chunk{Text: text, IsFinal: true}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func isSentenceBoundary(r rune) bool {
	return r == '.' || r == '?' || r == '!' || r == '\n'
}
