package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/gateway/tools/safety"
)

const defaultBaseURL = "https://api.todoist.com"

type Task struct {
	ID      string
	Content string
	URL     string
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.apiKey) != ""
}

// CreateTask adds a task to the user's inbox. dueString is optional natural
// language such as "tomorrow at 5pm".
func (c *Client) CreateTask(ctx context.Context, content, dueString string) (Task, error) {
	if !c.Configured() {
		return Task{}, fmt.Errorf("todoist api key is not configured")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Task{}, fmt.Errorf("content is required")
	}

	payload := map[string]any{"content": content}
	if due := strings.TrimSpace(dueString); due != "" {
		payload["due_string"] = due
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v2/tasks", bytes.NewReader(body))
	if err != nil {
		return Task{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Task{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Task{}, safety.StatusError("todoist", resp)
	}

	var decoded struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		URL     string `json:"url"`
	}
	if err := safety.DecodeJSONBodyLimited(resp, 0, &decoded); err != nil {
		return Task{}, fmt.Errorf("decode response: %w", err)
	}
	return Task{ID: decoded.ID, Content: decoded.Content, URL: decoded.URL}, nil
}
