package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeParked  = "parked"
	OutcomeCached  = "cached"
)

// Metrics holds all Prometheus collectors for a run.
type Metrics struct {
	registry prometheus.Gatherer

	StageSeconds          *prometheus.HistogramVec
	StagesTotal           *prometheus.CounterVec
	PollsTotal            *prometheus.CounterVec
	TransientRetriesTotal *prometheus.CounterVec
	DocumentsTotal        *prometheus.CounterVec
	RequestsTotal         *prometheus.CounterVec
	RequestSeconds        *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A fresh registry is used when
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docflow_stage_duration_seconds",
				Help:    "Wall-clock duration of completed remote stages",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900, 3600},
			},
			[]string{"action"},
		),
		StagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_stages_total",
				Help: "Stage outcomes per action",
			},
			[]string{"action", "outcome"},
		),
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_poll_requests_total",
				Help: "Result endpoint polls by reported status",
			},
			[]string{"action", "status"},
		),
		TransientRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_transient_retries_total",
				Help: "Retries triggered by transient remote error codes",
			},
			[]string{"action", "code"},
		),
		DocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_documents_processed_total",
				Help: "Documents finished by terminal stage",
			},
			[]string{"stage"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_http_requests_total",
				Help: "HTTP exchanges with the remote service",
			},
			[]string{"method", "code"},
		),
		RequestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docflow_http_request_seconds",
				Help:    "HTTP exchange latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying gatherer.
func (m *Metrics) Registry() prometheus.Gatherer {
	return m.registry
}

// RecordStage records a terminal stage outcome and, on success, its duration.
func (m *Metrics) RecordStage(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StagesTotal.WithLabelValues(action, outcome).Inc()
	if outcome == OutcomeSuccess && duration > 0 {
		m.StageSeconds.WithLabelValues(action).Observe(duration.Seconds())
	}
}

// RecordPoll counts one result endpoint poll.
func (m *Metrics) RecordPoll(action, status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "missing"
	}
	m.PollsTotal.WithLabelValues(action, status).Inc()
}

// RecordTransientRetry counts one transient retry.
func (m *Metrics) RecordTransientRetry(action, code string) {
	if m == nil {
		return
	}
	m.TransientRetriesTotal.WithLabelValues(action, code).Inc()
}

// RecordDocument counts a document reaching its final stage for this run.
func (m *Metrics) RecordDocument(stage string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(stage).Inc()
}

// ObserveRequest implements the transport's request observer.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}
