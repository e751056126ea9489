package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice/pkg/gateway/tools/safety"
)

const defaultBaseURL = "https://api.tavily.com"

type Hit struct {
	Title   string
	URL     string
	Snippet string
}

// Results is a search answer plus the hits it was drawn from.
type Results struct {
	Answer string
	Hits   []Hit
}

// Digest renders results as plain text for a model prompt.
func (r Results) Digest() string {
	var b strings.Builder
	if a := strings.TrimSpace(r.Answer); a != "" {
		b.WriteString("Answer: ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	for i, h := range r.Hits {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, strings.TrimSpace(h.Title), strings.TrimSpace(h.Snippet))
	}
	return strings.TrimSpace(b.String())
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

// Search runs a basic-depth search and asks Tavily for a short answer.
func (c *Client) Search(ctx context.Context, query string, maxResults int) (Results, error) {
	if !c.Configured() {
		return Results{}, fmt.Errorf("tavily api key is not configured")
	}
	if strings.TrimSpace(query) == "" {
		return Results{}, fmt.Errorf("query is required")
	}
	if maxResults <= 0 {
		maxResults = 3
	}

	body, err := json.Marshal(map[string]any{
		"query":          query,
		"search_depth":   "basic",
		"include_answer": true,
		"max_results":    maxResults,
	})
	if err != nil {
		return Results{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return Results{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Results{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Results{}, safety.StatusError("tavily", resp)
	}

	var decoded struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := safety.DecodeJSONBodyLimited(resp, 0, &decoded); err != nil {
		return Results{}, fmt.Errorf("decode response: %w", err)
	}

	out := Results{Answer: decoded.Answer, Hits: make([]Hit, 0, len(decoded.Results))}
	for _, r := range decoded.Results {
		out.Hits = append(out.Hits, Hit{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
