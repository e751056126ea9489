package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core/llm"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-voice/pkg/gateway/live/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/skills"
	"github.com/vango-go/vai-voice/pkg/gateway/upstream"
)

const (
	MessageCredentialTimeout = "Timed out waiting for API keys"
	missingKeysPrefix        = "Missing required API keys: "
)

type LiveGeneratorFactory func(ctx context.Context, apiKey, systemPrompt string) (llm.Generator, error)

type LiveTranscriptionFactory func() session.TranscriptionProvider

type LiveSynthesisFactory func(apiKey string) session.SynthesisProvider

// LiveHandler handles /v1/live websocket sessions. A connection must send
// its api_keys message within LiveCredentialTimeout before audio is accepted.
type LiveHandler struct {
	Config    config.Config
	Upstreams upstream.Factory
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Metrics   *metrics.Metrics
	Prompts   *skills.Prompts

	NewGenerator     LiveGeneratorFactory
	NewTranscription LiveTranscriptionFactory
	NewSynthesis     LiveSynthesisFactory
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID})
		return
	}
	if h.Lifecycle.IsDraining() {
		apierror.WriteError(w, &apierror.Error{Type: apierror.ErrUnavailable, Message: "server is draining", Code: "draining"}, reqID)
		return
	}
	if !h.originAllowed(r) {
		apierror.Write(w, http.StatusForbidden, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "origin is not allowed", Code: "origin_not_allowed", RequestID: reqID})
		return
	}

	sessionID := newSessionID()
	unregister, err := h.Sessions.Register(sessionID, sessions.Handle{})
	if err != nil {
		h.Metrics.RecordError("live", "at_capacity")
		apierror.WriteError(w, err, reqID)
		return
	}
	defer unregister()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.logger().With("session_id", sessionID, "request_id", reqID)
	if h.Config.LiveMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxMessageBytes)
	}
	h.Sessions.Update(sessionID, sessions.Handle{Cancel: func() { _ = conn.Close() }})

	keys, ok := h.awaitCredentials(conn, logger)
	if !ok {
		return
	}
	logger.Info("live credentials received", "api_keys", keys.RedactedForLog())

	s, err := h.newSession(r.Context(), conn, keys, sessionID, reqID, logger)
	if err != nil {
		logger.Error("live session init failed", "error", err)
		h.Metrics.RecordError("live", "init_failed")
		h.writeWSError(conn, "session_init_failed", "Failed to initialize services", websocket.CloseInternalServerErr)
		return
	}
	h.Sessions.Update(sessionID, sessions.Handle{Cancel: s.Cancel, Notify: s.Notify})

	startAt := time.Now()
	h.Metrics.RecordSessionStart()
	status := "ok"
	if err := s.Run(); err != nil {
		status = "error"
		logger.Warn("live session ended with error", "error", err)
	}
	h.Metrics.RecordSessionEnd(status, time.Since(startAt))
	logger.Info("live session closed", "duration_ms", time.Since(startAt).Milliseconds())
}

// awaitCredentials reads frames until a complete api_keys message arrives.
// It reports false once the connection has been rejected or lost.
func (h LiveHandler) awaitCredentials(conn *websocket.Conn, logger *slog.Logger) (protocol.ClientAPIKeys, bool) {
	timeout := h.Config.LiveCredentialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				h.Metrics.RecordError("live", "credential_timeout")
				h.writeWSError(conn, "credential_timeout", MessageCredentialTimeout, websocket.ClosePolicyViolation)
				return protocol.ClientAPIKeys{}, false
			}
			logger.Debug("live client left before sending credentials", "error", err)
			return protocol.ClientAPIKeys{}, false
		}
		if messageType != websocket.TextMessage {
			logger.Debug("dropping audio received before credentials", "bytes", len(data))
			continue
		}

		decoded, err := protocol.DecodeClientMessage(data)
		if err != nil {
			code := "bad_request"
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) && decodeErr.Code != "" {
				code = decodeErr.Code
			}
			h.Metrics.RecordError("live", code)
			h.writeWSError(conn, code, "Invalid message: "+err.Error(), websocket.ClosePolicyViolation)
			return protocol.ClientAPIKeys{}, false
		}
		keys, ok := decoded.(protocol.ClientAPIKeys)
		if !ok {
			h.writeWSError(conn, "bad_request", "first message must be api_keys", websocket.ClosePolicyViolation)
			return protocol.ClientAPIKeys{}, false
		}
		if missing := keys.Missing(protocol.RequiredKeys...); len(missing) > 0 {
			logger.Info("live credentials incomplete", "missing", missing)
			h.writeWSError(conn, "missing_api_keys", missingKeysPrefix+strings.Join(missing, ", "), 0)
			continue
		}
		return keys, true
	}
}

func (h LiveHandler) newSession(ctx context.Context, conn *websocket.Conn, keys protocol.ClientAPIKeys, sessionID, reqID string, logger *slog.Logger) (*session.VoiceSession, error) {
	prompts := h.Prompts
	if prompts == nil {
		var err error
		if prompts, err = skills.DefaultPrompts(); err != nil {
			return nil, err
		}
	}

	generator, err := h.newGenerator(ctx, keys.Get(protocol.KeyLLM), prompts.Persona())
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	runnerCfg := skills.RunnerConfig{
		Prompts:  prompts,
		Logger:   logger,
		Recorder: h.Metrics,
	}
	h.Upstreams.SkillSources(keys, &runnerCfg)
	runner, err := skills.NewRunner(runnerCfg)
	if err != nil {
		return nil, fmt.Errorf("skills: %w", err)
	}

	cfg := h.Config
	return session.New(session.Dependencies{
		Conn:          conn,
		Logger:        logger,
		SessionID:     sessionID,
		RequestID:     reqID,
		Keys:          keys,
		Transcription: h.newTranscription(),
		Generator:     generator,
		Synthesis:     h.newSynthesis(keys.Get(protocol.KeyTTS)),
		Skills:        runner,
		Observer:      h.Metrics,
		Config: session.Config{
			MaxMessageBytes:   cfg.LiveMaxMessageBytes,
			PingInterval:      cfg.LiveWSPingInterval,
			WriteTimeout:      cfg.LiveWSWriteTimeout,
			ReplyTimeout:      cfg.LiveReplyTimeout,
			OutboundQueueSize: cfg.LiveOutboundQueueSize,
			HistoryMaxTurns:   cfg.HistoryMaxTurns,
			HistoryMaxChars:   cfg.HistoryMaxChars,
			Chunker: session.ChunkerConfig{
				MinChars: cfg.ChunkMinChars,
				MaxHold:  cfg.ChunkMaxHold,
			},
			SynthesisReadTimeout: cfg.SynthesisReadTimeout,
			Voice:                tts.VoiceConfig{VoiceID: cfg.TTSVoiceID, Style: cfg.TTSStyle},
			FallbackText:         cfg.FallbackText,
			FallbackAudioURL:     cfg.FallbackAudioURL,
		},
	})
}

func (h LiveHandler) newGenerator(ctx context.Context, apiKey, systemPrompt string) (llm.Generator, error) {
	if h.NewGenerator != nil {
		return h.NewGenerator(ctx, apiKey, systemPrompt)
	}
	return h.Upstreams.Generator(ctx, apiKey, systemPrompt)
}

func (h LiveHandler) newTranscription() session.TranscriptionProvider {
	if h.NewTranscription != nil {
		return h.NewTranscription()
	}
	return session.AssemblyAITranscription{URL: h.Config.STTWSURL, SampleRate: h.Config.STTSampleRate}
}

func (h LiveHandler) newSynthesis(apiKey string) session.SynthesisProvider {
	if h.NewSynthesis != nil {
		return h.NewSynthesis(apiKey)
	}
	return session.MurfSynthesis{APIKey: apiKey, URL: h.Config.TTSWSURL, SampleRate: h.Config.TTSSampleRate}
}

// originAllowed admits requests without an Origin, same-origin browsers, and
// origins on the CORS allowlist.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.Config.CORSAllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, closeCode int) {
	writeTimeout := h.Config.LiveWSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(protocol.ServerError{Type: protocol.TypeError, Code: code, Message: message, Close: closeCode != 0})
	if closeCode != 0 {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, code), time.Now().Add(2*time.Second))
	}
}

func (h LiveHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "s_" + uuid.NewString()
	}
	return "s_" + id.String()
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
