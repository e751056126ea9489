package newsapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vango-go/vai-voice/pkg/gateway/tools/safety"
)

const defaultBaseURL = "https://newsapi.org"

type Article struct {
	Source      string
	Title       string
	Description string
	URL         string
}

// Digest renders articles as a numbered plain-text list.
func Digest(articles []Article) string {
	var b strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(a.Title))
		if a.Source != "" {
			fmt.Fprintf(&b, " (%s)", a.Source)
		}
		if d := strings.TrimSpace(a.Description); d != "" {
			b.WriteString(": ")
			b.WriteString(d)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

type Client struct {
	apiKey     string
	baseURL    string
	country    string
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
		country:    "us",
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.apiKey) != ""
}

// TopHeadlines returns current headlines matching query, or the general
// top headlines when query is empty.
func (c *Client) TopHeadlines(ctx context.Context, query string, max int) ([]Article, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("newsapi api key is not configured")
	}
	if max <= 0 {
		max = 5
	}
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(max))
	if query = strings.TrimSpace(query); query != "" {
		q.Set("q", query)
	} else {
		q.Set("country", c.country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/top-headlines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, safety.StatusError("newsapi", resp)
	}

	var decoded struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"articles"`
	}
	if err := safety.DecodeJSONBodyLimited(resp, 0, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Status != "" && decoded.Status != "ok" {
		return nil, fmt.Errorf("newsapi error: %s", decoded.Message)
	}

	out := make([]Article, 0, len(decoded.Articles))
	for _, a := range decoded.Articles {
		if strings.TrimSpace(a.Title) == "" || a.Title == "[Removed]" {
			continue
		}
		out = append(out, Article{Source: a.Source.Name, Title: a.Title, Description: a.Description, URL: a.URL})
	}
	return out, nil
}
