package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/skills"
	"github.com/vango-go/vai-voice/pkg/gateway/upstream"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	router *chi.Mux

	upstreams upstream.Factory
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
	metrics   *metrics.Metrics
	prompts   *skills.Prompts
	live      handlers.LiveHandler
}

type Option func(*Server)

// WithLiveFactories replaces the upstream constructors used by live
// sessions. Nil factories keep the defaults.
func WithLiveFactories(gen handlers.LiveGeneratorFactory, stt handlers.LiveTranscriptionFactory, tts handlers.LiveSynthesisFactory) Option {
	return func(s *Server) {
		s.live.NewGenerator = gen
		s.live.NewTranscription = stt
		s.live.NewSynthesis = tts
	}
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	prompts, err := skills.DefaultPrompts()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
		upstreams: upstream.Factory{
			Config:     cfg,
			HTTPClient: upstream.NewHTTPClient(cfg),
		},
		lifecycle: lifecycle.New(time.Now()),
		sessions:  sessions.NewTracker(cfg.LiveMaxSessions),
		prompts:   prompts,
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New(cfg.MetricsNamespace)
	}
	s.live = handlers.LiveHandler{
		Config:    cfg,
		Upstreams: s.upstreams,
		Logger:    logger,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
		Metrics:   s.metrics,
		Prompts:   prompts,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(mw.RequestID)
	r.Use(func(next http.Handler) http.Handler { return mw.AccessLog(s.logger, s.metrics, next) })
	r.Use(func(next http.Handler) http.Handler { return mw.Recover(s.logger, next) })
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Method(http.MethodGet, "/healthz", handlers.HealthHandler{})
	r.Method(http.MethodGet, "/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Handle("/v1/live", s.live)
	r.Handle("/ws", s.live)

	r.NotFound(handlers.NotFoundHandler{}.ServeHTTP)
	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// SetDraining fails readiness and refuses new live sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// NotifyLiveSessionsDraining tells connected clients the server is going away.
func (s *Server) NotifyLiveSessionsDraining() int {
	return s.sessions.NotifyAll("Server is shutting down")
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.sessions.CancelAll()
}

func (s *Server) LiveSessionCount() int {
	return s.sessions.Count()
}
