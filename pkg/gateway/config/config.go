package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	GenerationBackendGemini = "gemini"
	GenerationBackendOpenAI = "openai"

	DefaultFallbackText     = "I'm having trouble connecting right now. Please try again later."
	DefaultFallbackAudioURL = "https://murf.ai/user-upload/one-day-temp/63ad7907-8d57-43c9-acc3-8544d19c14e1.wav"
)

type Config struct {
	Addr string `yaml:"addr"`

	// CORS
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"` // empty => disabled

	// Optional directory served at "/" (browser client).
	StaticDir string `yaml:"static_dir"`

	// Live WebSocket mode (/v1/live).
	LiveCredentialTimeout time.Duration `yaml:"live_credential_timeout"`
	LiveMaxMessageBytes   int64         `yaml:"live_max_message_bytes"`
	LiveWSPingInterval    time.Duration `yaml:"live_ws_ping_interval"`
	LiveWSWriteTimeout    time.Duration `yaml:"live_ws_write_timeout"`
	LiveReplyTimeout      time.Duration `yaml:"live_reply_timeout"`
	LiveMaxSessions       int           `yaml:"live_max_sessions"`
	LiveOutboundQueueSize int           `yaml:"live_outbound_queue_size"`

	// Conversation history window fed to the model.
	HistoryMaxTurns int `yaml:"history_max_turns"`
	HistoryMaxChars int `yaml:"history_max_chars"`

	// Reply chunking.
	ChunkMinChars int           `yaml:"chunk_min_chars"`
	ChunkMaxHold  time.Duration `yaml:"chunk_max_hold"`

	// Generation.
	GenerationBackend string `yaml:"generation_backend"`
	GenerationModel   string `yaml:"generation_model"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`

	// Speech-to-text (streaming).
	STTWSURL      string `yaml:"stt_ws_url"`
	STTSampleRate int    `yaml:"stt_sample_rate"`

	// Speech synthesis (streaming).
	TTSWSURL             string        `yaml:"tts_ws_url"`
	TTSVoiceID           string        `yaml:"tts_voice_id"`
	TTSStyle             string        `yaml:"tts_style"`
	TTSSampleRate        int           `yaml:"tts_sample_rate"`
	SynthesisReadTimeout time.Duration `yaml:"synthesis_read_timeout"`

	// Skill backends.
	SkillTimeout       time.Duration `yaml:"skill_timeout"`
	TavilyBaseURL      string        `yaml:"tavily_base_url"`
	OpenWeatherBaseURL string        `yaml:"openweather_base_url"`
	NewsAPIBaseURL     string        `yaml:"newsapi_base_url"`
	TodoistBaseURL     string        `yaml:"todoist_base_url"`

	// Degraded-mode replies.
	FallbackText     string `yaml:"fallback_text"`
	FallbackAudioURL string `yaml:"fallback_audio_url"`

	// Observability.
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MetricsNamespace string `yaml:"metrics_namespace"`

	// Operational defaults
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration `yaml:"upstream_connect_timeout"`
	UpstreamResponseHeaderTimeout time.Duration `yaml:"upstream_response_header_timeout"`
}

// Defaults returns the built-in configuration before any file or env overrides.
func Defaults() Config {
	return Config{
		Addr:                          ":8080",
		LiveCredentialTimeout:         30 * time.Second,
		LiveMaxMessageBytes:           64 << 10,
		LiveWSPingInterval:            20 * time.Second,
		LiveWSWriteTimeout:            5 * time.Second,
		LiveReplyTimeout:              2 * time.Minute,
		LiveMaxSessions:               64,
		LiveOutboundQueueSize:         256,
		HistoryMaxTurns:               10,
		HistoryMaxChars:               4000,
		ChunkMinChars:                 50,
		ChunkMaxHold:                  500 * time.Millisecond,
		GenerationBackend:             GenerationBackendGemini,
		GenerationModel:               "gemini-2.5-pro",
		STTWSURL:                      "wss://streaming.assemblyai.com/v3/ws",
		STTSampleRate:                 16000,
		TTSWSURL:                      "wss://api.murf.ai/v1/speech/stream-input",
		TTSVoiceID:                    "en-US-natalie",
		TTSStyle:                      "Conversational",
		TTSSampleRate:                 44100,
		SynthesisReadTimeout:          10 * time.Second,
		SkillTimeout:                  8 * time.Second,
		TavilyBaseURL:                 "https://api.tavily.com",
		OpenWeatherBaseURL:            "https://api.openweathermap.org",
		NewsAPIBaseURL:                "https://newsapi.org",
		TodoistBaseURL:                "https://api.todoist.com",
		FallbackText:                  DefaultFallbackText,
		FallbackAudioURL:              DefaultFallbackAudioURL,
		MetricsEnabled:                true,
		MetricsNamespace:              "vai_voice",
		ReadHeaderTimeout:             10 * time.Second,
		ShutdownGracePeriod:           30 * time.Second,
		UpstreamConnectTimeout:        5 * time.Second,
		UpstreamResponseHeaderTimeout: 30 * time.Second,
	}
}

// LoadFromEnv loads the optional file named by VAI_VOICE_CONFIG and then
// applies VAI_VOICE_* environment overrides.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("VAI_VOICE_CONFIG"))
}

// Load reads path (if non-empty) over Defaults, applies env overrides and validates.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = envOr("VAI_VOICE_ADDR", cfg.Addr)
	if origins := splitCSV(os.Getenv("VAI_VOICE_CORS_ORIGINS")); len(origins) > 0 {
		cfg.CORSAllowedOrigins = origins
	}
	cfg.StaticDir = envOr("VAI_VOICE_STATIC_DIR", cfg.StaticDir)

	cfg.LiveCredentialTimeout = envDurationOr("VAI_VOICE_LIVE_CREDENTIAL_TIMEOUT", cfg.LiveCredentialTimeout)
	cfg.LiveMaxMessageBytes = envInt64Or("VAI_VOICE_LIVE_MAX_MESSAGE_BYTES", cfg.LiveMaxMessageBytes)
	cfg.LiveWSPingInterval = envDurationOr("VAI_VOICE_LIVE_WS_PING_INTERVAL", cfg.LiveWSPingInterval)
	cfg.LiveWSWriteTimeout = envDurationOr("VAI_VOICE_LIVE_WS_WRITE_TIMEOUT", cfg.LiveWSWriteTimeout)
	cfg.LiveReplyTimeout = envDurationOr("VAI_VOICE_LIVE_REPLY_TIMEOUT", cfg.LiveReplyTimeout)
	cfg.LiveMaxSessions = envIntOr("VAI_VOICE_LIVE_MAX_SESSIONS", cfg.LiveMaxSessions)
	cfg.LiveOutboundQueueSize = envIntOr("VAI_VOICE_LIVE_OUTBOUND_QUEUE_SIZE", cfg.LiveOutboundQueueSize)

	cfg.HistoryMaxTurns = envIntOr("VAI_VOICE_HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	cfg.HistoryMaxChars = envIntOr("VAI_VOICE_HISTORY_MAX_CHARS", cfg.HistoryMaxChars)
	cfg.ChunkMinChars = envIntOr("VAI_VOICE_CHUNK_MIN_CHARS", cfg.ChunkMinChars)
	cfg.ChunkMaxHold = envDurationOr("VAI_VOICE_CHUNK_MAX_HOLD", cfg.ChunkMaxHold)

	cfg.GenerationBackend = strings.ToLower(envOr("VAI_VOICE_GENERATION_BACKEND", cfg.GenerationBackend))
	cfg.GenerationModel = envOr("VAI_VOICE_GENERATION_MODEL", cfg.GenerationModel)
	cfg.OpenAIBaseURL = envOr("VAI_VOICE_OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.STTWSURL = envOr("VAI_VOICE_STT_WS_URL", cfg.STTWSURL)
	cfg.STTSampleRate = envIntOr("VAI_VOICE_STT_SAMPLE_RATE", cfg.STTSampleRate)
	cfg.TTSWSURL = envOr("VAI_VOICE_TTS_WS_URL", cfg.TTSWSURL)
	cfg.TTSVoiceID = envOr("VAI_VOICE_TTS_VOICE_ID", cfg.TTSVoiceID)
	cfg.TTSStyle = envOr("VAI_VOICE_TTS_STYLE", cfg.TTSStyle)
	cfg.TTSSampleRate = envIntOr("VAI_VOICE_TTS_SAMPLE_RATE", cfg.TTSSampleRate)
	cfg.SynthesisReadTimeout = envDurationOr("VAI_VOICE_SYNTHESIS_READ_TIMEOUT", cfg.SynthesisReadTimeout)

	cfg.SkillTimeout = envDurationOr("VAI_VOICE_SKILL_TIMEOUT", cfg.SkillTimeout)
	cfg.TavilyBaseURL = envOr("VAI_VOICE_TAVILY_BASE_URL", cfg.TavilyBaseURL)
	cfg.OpenWeatherBaseURL = envOr("VAI_VOICE_OPENWEATHER_BASE_URL", cfg.OpenWeatherBaseURL)
	cfg.NewsAPIBaseURL = envOr("VAI_VOICE_NEWSAPI_BASE_URL", cfg.NewsAPIBaseURL)
	cfg.TodoistBaseURL = envOr("VAI_VOICE_TODOIST_BASE_URL", cfg.TodoistBaseURL)

	cfg.FallbackText = envOr("VAI_VOICE_FALLBACK_TEXT", cfg.FallbackText)
	cfg.FallbackAudioURL = envOr("VAI_VOICE_FALLBACK_AUDIO_URL", cfg.FallbackAudioURL)

	cfg.MetricsEnabled = envBoolOr("VAI_VOICE_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsNamespace = envOr("VAI_VOICE_METRICS_NAMESPACE", cfg.MetricsNamespace)

	cfg.ReadHeaderTimeout = envDurationOr("VAI_VOICE_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("VAI_VOICE_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)
	cfg.UpstreamConnectTimeout = envDurationOr("VAI_VOICE_CONNECT_TIMEOUT", cfg.UpstreamConnectTimeout)
	cfg.UpstreamResponseHeaderTimeout = envDurationOr("VAI_VOICE_RESPONSE_HEADER_TIMEOUT", cfg.UpstreamResponseHeaderTimeout)
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("VAI_VOICE_ADDR must not be empty")
	}
	if cfg.LiveCredentialTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_CREDENTIAL_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveReplyTimeout < 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_REPLY_TIMEOUT must be >= 0")
	}
	if cfg.LiveMaxSessions < 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_MAX_SESSIONS must be >= 0")
	}
	if cfg.LiveOutboundQueueSize <= 0 {
		return fmt.Errorf("VAI_VOICE_LIVE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.HistoryMaxTurns <= 0 {
		return fmt.Errorf("VAI_VOICE_HISTORY_MAX_TURNS must be > 0")
	}
	if cfg.HistoryMaxChars <= 0 {
		return fmt.Errorf("VAI_VOICE_HISTORY_MAX_CHARS must be > 0")
	}
	if cfg.ChunkMinChars <= 0 {
		return fmt.Errorf("VAI_VOICE_CHUNK_MIN_CHARS must be > 0")
	}
	if cfg.ChunkMaxHold <= 0 {
		return fmt.Errorf("VAI_VOICE_CHUNK_MAX_HOLD must be > 0")
	}
	switch cfg.GenerationBackend {
	case GenerationBackendGemini, GenerationBackendOpenAI:
	default:
		return fmt.Errorf("VAI_VOICE_GENERATION_BACKEND must be one of gemini|openai")
	}
	if strings.TrimSpace(cfg.GenerationModel) == "" {
		return fmt.Errorf("VAI_VOICE_GENERATION_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.STTWSURL) == "" {
		return fmt.Errorf("VAI_VOICE_STT_WS_URL must not be empty")
	}
	if cfg.STTSampleRate <= 0 {
		return fmt.Errorf("VAI_VOICE_STT_SAMPLE_RATE must be > 0")
	}
	if strings.TrimSpace(cfg.TTSWSURL) == "" {
		return fmt.Errorf("VAI_VOICE_TTS_WS_URL must not be empty")
	}
	if strings.TrimSpace(cfg.TTSVoiceID) == "" {
		return fmt.Errorf("VAI_VOICE_TTS_VOICE_ID must not be empty")
	}
	if cfg.TTSSampleRate <= 0 {
		return fmt.Errorf("VAI_VOICE_TTS_SAMPLE_RATE must be > 0")
	}
	if cfg.SynthesisReadTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_SYNTHESIS_READ_TIMEOUT must be > 0")
	}
	if cfg.SkillTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_SKILL_TIMEOUT must be > 0")
	}
	for key, v := range map[string]string{
		"VAI_VOICE_TAVILY_BASE_URL":      cfg.TavilyBaseURL,
		"VAI_VOICE_OPENWEATHER_BASE_URL": cfg.OpenWeatherBaseURL,
		"VAI_VOICE_NEWSAPI_BASE_URL":     cfg.NewsAPIBaseURL,
		"VAI_VOICE_TODOIST_BASE_URL":     cfg.TodoistBaseURL,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if strings.TrimSpace(cfg.FallbackText) == "" {
		return fmt.Errorf("VAI_VOICE_FALLBACK_TEXT must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
