// Package metrics exposes Prometheus collectors for the voice gateway. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Live sessions
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	AudioBytesTotal *prometheus.CounterVec

	// Reply pipeline
	ChunksTotal       *prometheus.CounterVec
	SynthesisTotal    *prometheus.CounterVec
	SynthesisDuration prometheus.Histogram
	RepliesTotal      *prometheus.CounterVec
	ReplyDuration     prometheus.Histogram
	SkillCallsTotal   *prometheus.CounterVec
	SkillDuration     *prometheus.HistogramVec

	ErrorsTotal *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_voice"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of active live sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of live sessions by outcome",
		}, []string{"status"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Audio bytes relayed in live sessions",
		}, []string{"direction"}),
		ChunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_chunks_total",
			Help:      "Reply chunks sent to clients",
		}, []string{"final"}),
		SynthesisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_jobs_total",
			Help:      "Synthesis jobs by outcome",
		}, []string{"status"}),
		SynthesisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_job_duration_seconds",
			Help:      "Synthesis job duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		RepliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies by outcome",
		}, []string{"status"}),
		ReplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_duration_seconds",
			Help:      "Time from utterance to final chunk in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		SkillCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_calls_total",
			Help:      "Skill calls by skill and outcome",
		}, []string{"skill", "status"}),
		SkillDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "skill_call_duration_seconds",
			Help:      "Skill call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"skill"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		}, []string{"component", "error_type"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.AudioBytesTotal,
		m.ChunksTotal,
		m.SynthesisTotal,
		m.SynthesisDuration,
		m.RepliesTotal,
		m.ReplyDuration,
		m.SkillCallsTotal,
		m.SkillDuration,
		m.ErrorsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionEnd(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordSkillCall satisfies skills.Recorder.
func (m *Metrics) RecordSkillCall(skill, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SkillCallsTotal.WithLabelValues(skill, status).Inc()
	m.SkillDuration.WithLabelValues(skill).Observe(d.Seconds())
}

// The Observe methods satisfy session.Observer.

func (m *Metrics) ObserveAudioIn(bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues("in").Add(float64(bytes))
}

func (m *Metrics) ObserveAudioOut(bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues("out").Add(float64(bytes))
}

func (m *Metrics) ObserveChunk(final bool) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(strconv.FormatBool(final)).Inc()
}

func (m *Metrics) ObserveSynthesis(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisTotal.WithLabelValues(status).Inc()
	m.SynthesisDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveReply(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RepliesTotal.WithLabelValues(status).Inc()
	m.ReplyDuration.Observe(d.Seconds())
}
