package session

import (
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/llm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one immutable entry in a conversation.
type Turn struct {
	Role string
	Text string
	At   time.Time
}

// History is a bounded, ordered turn log. It is owned by a single session
// goroutine and is not safe for concurrent use.
type History struct {
	maxTurns int
	maxChars int
	now      func() time.Time
	turns    []Turn
}

func NewHistory(maxTurns, maxChars int) *History {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &History{
		maxTurns: maxTurns,
		maxChars: maxChars,
		now:      time.Now,
		turns:    make([]Turn, 0, 2*maxTurns),
	}
}

func (h *History) AddUser(text string) {
	h.add(RoleUser, text)
}

func (h *History) AddAssistant(text string) {
	h.add(RoleAssistant, text)
}

func (h *History) add(role, text string) {
	h.turns = append(h.turns, Turn{Role: role, Text: text, At: h.now()})
	if limit := 2 * h.maxTurns; len(h.turns) > limit {
		drop := len(h.turns) - limit
		copy(h.turns, h.turns[drop:])
		clear(h.turns[limit:])
		h.turns = h.turns[:limit]
	}
}

func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of every retained turn.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// window returns the newest suffix of turns whose formatted lines fit in maxChars.
func (h *History) window() []Turn {
	total := 0
	start := len(h.turns)
	for i := len(h.turns) - 1; i >= 0; i-- {
		n := runeLen(formatTurn(h.turns[i]))
		if total+n > h.maxChars {
			break
		}
		total += n
		start = i
	}
	return h.turns[start:]
}

// FormatForPrompt renders the retained window as "ROLE: text" lines, oldest first.
func (h *History) FormatForPrompt() string {
	var b strings.Builder
	for _, turn := range h.window() {
		b.WriteString(formatTurn(turn))
	}
	return b.String()
}

// PromptMessages returns the same window as FormatForPrompt as chat messages.
// Consecutive turns from the same role are merged so providers that require
// alternating roles accept the history.
func (h *History) PromptMessages() []llm.Message {
	win := h.window()
	out := make([]llm.Message, 0, len(win))
	for _, turn := range win {
		if n := len(out); n > 0 && out[n-1].Role == turn.Role {
			out[n-1].Content += " " + turn.Text
			continue
		}
		out = append(out, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	return out
}

func formatTurn(t Turn) string {
	return strings.ToUpper(t.Role) + ": " + t.Text + "\n"
}
