package openweather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vango-go/vai-voice/pkg/gateway/tools/safety"
)

const defaultBaseURL = "https://api.openweathermap.org"

// ErrLocationNotFound is returned when the service does not know the city.
var ErrLocationNotFound = errors.New("openweather: location not found")

// Conditions is the current weather at a location, in metric units.
type Conditions struct {
	Location    string
	Country     string
	Description string
	TempC       float64
	FeelsLikeC  float64
	Humidity    int
	WindSpeedMS float64
}

// Summary renders conditions as one plain-text line.
func (c Conditions) Summary() string {
	place := c.Location
	if c.Country != "" {
		place += ", " + c.Country
	}
	return fmt.Sprintf("%s: %s, %.0f°C (feels like %.0f°C), humidity %d%%, wind %.1f m/s",
		place, c.Description, c.TempC, c.FeelsLikeC, c.Humidity, c.WindSpeedMS)
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

// Current fetches current conditions for a city name.
func (c *Client) Current(ctx context.Context, location string) (Conditions, error) {
	if !c.Configured() {
		return Conditions{}, fmt.Errorf("openweather api key is not configured")
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return Conditions{}, fmt.Errorf("location is required")
	}

	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/data/2.5/weather?"+q.Encode(), nil)
	if err != nil {
		return Conditions{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Conditions{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Conditions{}, fmt.Errorf("%w: %s", ErrLocationNotFound, location)
	}
	if resp.StatusCode != http.StatusOK {
		return Conditions{}, safety.StatusError("openweather", resp)
	}

	var decoded struct {
		Name    string `json:"name"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Sys struct {
			Country string `json:"country"`
		} `json:"sys"`
	}
	if err := safety.DecodeJSONBodyLimited(resp, 0, &decoded); err != nil {
		return Conditions{}, fmt.Errorf("decode response: %w", err)
	}

	out := Conditions{
		Location:    decoded.Name,
		Country:     decoded.Sys.Country,
		TempC:       decoded.Main.Temp,
		FeelsLikeC:  decoded.Main.FeelsLike,
		Humidity:    decoded.Main.Humidity,
		WindSpeedMS: decoded.Wind.Speed,
	}
	if out.Location == "" {
		out.Location = location
	}
	if len(decoded.Weather) > 0 {
		out.Description = decoded.Weather[0].Description
	}
	return out, nil
}
