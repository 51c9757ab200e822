// Package metrics defines the Prometheus metric collectors used by the
// pipeline and the predictor, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes observed by the ranking stage's map phase.
const (
	OutcomeAccepted       = "accepted"
	OutcomeMalformed      = "malformed"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeOrderExcluded  = "order_excluded"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	LinesTotal             prometheus.Counter
	MapEmittedTotal        *prometheus.CounterVec
	RecordsTotal           *prometheus.CounterVec
	PrefixesPublishedTotal prometheus.Counter
	TaskAttemptsTotal      *prometheus.CounterVec
	PhaseDuration          *prometheus.HistogramVec
	SinkWritesTotal        *prometheus.CounterVec
	PredictionsTotal       *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lm_lines_total",
				Help: "Total corpus lines fed to the counting stage.",
			},
		),
		MapEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lm_map_emitted_total",
				Help: "Key/value pairs emitted by map tasks, by job.",
			},
			[]string{"job"},
		),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lm_records_total",
				Help: "Phrase records seen by the ranking stage, by outcome.",
			},
			[]string{"outcome"},
		),
		PrefixesPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lm_prefixes_published_total",
				Help: "Total prefix rows written to the sink.",
			},
		),
		TaskAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lm_task_attempts_total",
				Help: "Map and reduce task attempts by phase and status.",
			},
			[]string{"job", "phase", "status"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lm_phase_duration_seconds",
				Help:    "Wall time of each pipeline phase.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"job", "phase"},
		),
		SinkWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lm_sink_writes_total",
				Help: "Sink row writes by driver and status.",
			},
			[]string{"driver", "status"},
		),
		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lm_predictions_total",
				Help: "Prediction lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.LinesTotal,
		m.MapEmittedTotal,
		m.RecordsTotal,
		m.PrefixesPublishedTotal,
		m.TaskAttemptsTotal,
		m.PhaseDuration,
		m.SinkWritesTotal,
		m.PredictionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CircuitBreakerState,
	)

	return m
}

// ObservePhase records the duration of a phase that started at start. It is
// a no-op on a nil receiver so that callers may run without metrics.
func (m *Metrics) ObservePhase(job, phase string, start time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(job, phase).Observe(time.Since(start).Seconds())
}

// ObserveTask counts one task attempt.
func (m *Metrics) ObserveTask(job, phase string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TaskAttemptsTotal.WithLabelValues(job, phase, status).Inc()
}

// AddRecords counts n ranking-stage input records with one outcome.
func (m *Metrics) AddRecords(outcome string, n int64) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Add(float64(n))
}

// AddLines counts corpus lines handed to map tasks.
func (m *Metrics) AddLines(n int) {
	if m == nil {
		return
	}
	m.LinesTotal.Add(float64(n))
}

// AddEmitted counts the pairs a job's map phase emitted.
func (m *Metrics) AddEmitted(job string, n int64) {
	if m == nil {
		return
	}
	m.MapEmittedTotal.WithLabelValues(job).Add(float64(n))
}

// ObserveSinkWrite counts one row write.
func (m *Metrics) ObserveSinkWrite(driver string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.PrefixesPublishedTotal.Inc()
	}
	m.SinkWritesTotal.WithLabelValues(driver, status).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
