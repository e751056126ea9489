// Package llm adapts streaming chat models to the conversation loop.
package llm

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// Message is one prior conversation turn handed to StartChat.
type Message struct {
	Role    string
	Content string
}

// Chat is a conversation seeded with history. SendStream yields reply text
// fragments as they arrive; iteration stops at the first error.
type Chat interface {
	SendStream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Generator starts chats against a model.
type Generator interface {
	StartChat(ctx context.Context, history []Message) (Chat, error)
}

type Options struct {
	Backend      string
	APIKey       string
	Model        string
	SystemPrompt string
	BaseURL      string
	HTTPClient   *http.Client
}

// New returns the Generator for opts.Backend.
func New(ctx context.Context, opts Options) (Generator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendGemini:
		return NewGemini(ctx, opts)
	case BackendOpenAI:
		return NewOpenAI(opts), nil
	default:
		return nil, fmt.Errorf("llm: unsupported backend %q", opts.Backend)
	}
}
