package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the server accepts new live sessions.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Now       func() time.Time
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                bool     `json:"ok"`
		Draining          bool     `json:"draining"`
		ActiveSessions    int      `json:"active_sessions"`
		MaxSessions       int      `json:"max_sessions"`
		GenerationBackend string   `json:"generation_backend"`
		UptimeSeconds     int64    `json:"uptime_seconds"`
		Issues            []string `json:"issues,omitempty"`
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	var issues []string
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "server is draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:                ok,
		Draining:          draining,
		ActiveSessions:    h.Sessions.Count(),
		MaxSessions:       h.Config.LiveMaxSessions,
		GenerationBackend: h.Config.GenerationBackend,
		UptimeSeconds:     int64(h.Lifecycle.Uptime(now()) / time.Second),
		Issues:            issues,
	})
}
