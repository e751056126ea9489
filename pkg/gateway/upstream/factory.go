// Package upstream builds the per-session clients for the third-party
// services a voice session talks to.
package upstream

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-voice/pkg/gateway/skills"
	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/newsapi"
	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/openweather"
	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/tavily"
	"github.com/vango-go/vai-voice/pkg/gateway/tools/adapters/todoist"
)

// NewHTTPClient returns the shared client for upstream REST calls.
func NewHTTPClient(cfg config.Config) *http.Client {
	connectTimeout := cfg.UpstreamConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}
}

type Factory struct {
	Config     config.Config
	HTTPClient *http.Client
}

// Generator returns a chat model for the session's llm key.
func (f Factory) Generator(ctx context.Context, apiKey, systemPrompt string) (llm.Generator, error) {
	return llm.New(ctx, llm.Options{
		Backend:      f.Config.GenerationBackend,
		APIKey:       apiKey,
		Model:        f.Config.GenerationModel,
		SystemPrompt: systemPrompt,
		BaseURL:      f.Config.OpenAIBaseURL,
		HTTPClient:   f.client(),
	})
}

// SkillSources fills the skill backends for which keys carries a credential.
// Backends without a key stay nil so the capability reads as unconfigured.
func (f Factory) SkillSources(keys protocol.ClientAPIKeys, cfg *skills.RunnerConfig) {
	client := f.client()
	if key := keys.Get(protocol.KeyWeather); key != "" {
		cfg.Weather = openweather.NewClient(key, f.Config.OpenWeatherBaseURL, client)
	}
	if key := keys.Get(protocol.KeyNews); key != "" {
		cfg.News = newsapi.NewClient(key, f.Config.NewsAPIBaseURL, client)
	}
	if key := keys.Get(protocol.KeySearch); key != "" {
		cfg.Search = tavily.NewClient(key, f.Config.TavilyBaseURL, client)
	}
	if key := keys.Get(protocol.KeyTasks); key != "" {
		cfg.Tasks = todoist.NewClient(key, f.Config.TodoistBaseURL, client)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = f.Config.SkillTimeout
	}
}

func (f Factory) client() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}
