// Package lifecycle holds process state shared by the HTTP handlers during
// startup and graceful shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	started  time.Time
	draining atomic.Bool
}

func New(now time.Time) *Lifecycle {
	return &Lifecycle{started: now}
}

// SetDraining makes readiness fail and the live endpoint refuse new
// sessions while existing ones finish.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) Uptime(now time.Time) time.Duration {
	if l == nil || l.started.IsZero() {
		return 0
	}
	return now.Sub(l.started)
}
