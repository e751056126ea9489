package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func collect(t *testing.T, seq func(func(string, error) bool)) (string, error) {
	t.Helper()
	var b strings.Builder
	for text, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

type capturedRequest struct {
	mu     sync.Mutex
	bodies []map[string]any
	auth   []string
}

func (c *capturedRequest) add(r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	c.auth = append(c.auth, r.Header.Get("Authorization")+r.Header.Get("x-goog-api-key"))
}

func (c *capturedRequest) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		return nil
	}
	return c.bodies[len(c.bodies)-1]
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, ev := range events {
		fmt.Fprintf(w, "data: %s\n\n", ev)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestOpenAIChat_StreamsAndKeepsHistory(t *testing.T) {
	var captured capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		captured.add(r)
		writeSSE(w,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there."}}]}`,
			`[DONE]`,
		)
	}))
	defer srv.Close()

	gen, err := New(context.Background(), Options{
		Backend:      BackendOpenAI,
		APIKey:       "sk-test",
		Model:        "gpt-test",
		SystemPrompt: "You are a helpful voice agent.",
		BaseURL:      srv.URL + "/v1",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chat, err := gen.StartChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hey"}})
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	got, err := collect(t, chat.SendStream(context.Background(), "how are you"))
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	if got != "Hello there." {
		t.Fatalf("reply=%q, want %q", got, "Hello there.")
	}
	msgs, _ := captured.last()["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages=%v, want system+2 history+prompt", msgs)
	}
	if first := msgs[0].(map[string]any); first["role"] != "system" {
		t.Fatalf("first message=%v, want system", first)
	}

	if _, err := collect(t, chat.SendStream(context.Background(), "and now?")); err != nil {
		t.Fatalf("second SendStream: %v", err)
	}
	msgs, _ = captured.last()["messages"].([]any)
	if len(msgs) != 6 {
		t.Fatalf("second request messages=%d, want 6 (reply retained)", len(msgs))
	}
	if reply := msgs[4].(map[string]any); reply["role"] != "assistant" || reply["content"] != "Hello there." {
		t.Fatalf("retained reply=%v", reply)
	}
	if captured.auth[0] != "Bearer sk-test" {
		t.Fatalf("auth=%q", captured.auth[0])
	}
}

func TestOpenAIChat_UpstreamErrorYieldsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	gen := NewOpenAI(Options{APIKey: "sk-bad", BaseURL: srv.URL + "/v1"})
	chat, err := gen.StartChat(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	_, err = collect(t, chat.SendStream(context.Background(), "hello"))
	if err == nil || !strings.Contains(err.Error(), "openai stream") {
		t.Fatalf("err=%v, want openai stream error", err)
	}
}

func TestGeminiChat_StreamsFragments(t *testing.T) {
	var captured capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			http.NotFound(w, r)
			return
		}
		captured.add(r)
		writeSSE(w,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"It is "}]}}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"sunny."}]},"finishReason":"STOP"}]}`,
		)
	}))
	defer srv.Close()

	gen, err := New(context.Background(), Options{
		Backend:      BackendGemini,
		APIKey:       "g-test",
		Model:        "gemini-test",
		SystemPrompt: "Be brief.",
		BaseURL:      srv.URL,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chat, err := gen.StartChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}})
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	got, err := collect(t, chat.SendStream(context.Background(), "weather?"))
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}
	if got != "It is sunny." {
		t.Fatalf("reply=%q, want %q", got, "It is sunny.")
	}
	contents, _ := captured.last()["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("contents=%v, want 2 history + prompt", contents)
	}
	if second := contents[1].(map[string]any); second["role"] != "model" {
		t.Fatalf("assistant history role=%v, want model", second["role"])
	}
	if captured.last()["systemInstruction"] == nil {
		t.Fatalf("systemInstruction missing from request")
	}
}

func TestGeminiContents_MapsRoles(t *testing.T) {
	got := geminiContents([]Message{
		{Role: RoleUser, Content: "what's the weather"},
		{Role: RoleAssistant, Content: "sunny"},
		{Role: RoleUser, Content: "thanks"},
	})
	if len(got) != 3 {
		t.Fatalf("contents=%d, want 3", len(got))
	}
	wantRoles := []string{"user", "model", "user"}
	for i, c := range got {
		if string(c.Role) != wantRoles[i] {
			t.Fatalf("contents[%d].Role=%q, want %q", i, c.Role, wantRoles[i])
		}
		if len(c.Parts) != 1 || c.Parts[0].Text == "" {
			t.Fatalf("contents[%d].Parts=%+v, want one text part", i, c.Parts)
		}
	}
	if got[1].Parts[0].Text != "sunny" {
		t.Fatalf("assistant text=%q, want sunny", got[1].Parts[0].Text)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(context.Background(), Options{Backend: BackendOpenAI}); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := New(context.Background(), Options{Backend: "claude", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
