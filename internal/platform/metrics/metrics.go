package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the onboarding service.
// All methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	StageOutcomes     *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	Runs              *prometheus.CounterVec
	RunSteps          prometheus.Histogram
	AdvisorAgreement  *prometheus.CounterVec
	CacheOperations   *prometheus.CounterVec
	CacheHealthy      prometheus.Gauge
	CacheEnabled      prometheus.Gauge
	StoreDuration     *prometheus.HistogramVec
	EventsPublished   *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	RegistrarRequests *prometheus.CounterVec
	RegistrarDuration prometheus.Histogram
	HTTPDuration      *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_stage_outcomes_total",
			Help: "Stage processing outcomes by stage and result",
		}, []string{"stage", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboarding_stage_duration_seconds",
			Help:    "Stage processing latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_runs_total",
			Help: "Workflow runs by final status",
		}, []string{"status"}),
		RunSteps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboarding_run_steps",
			Help:    "Supervisor transitions per workflow run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
		}),
		AdvisorAgreement: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_advisor_signals_total",
			Help: "Advisory routing signals compared with the deterministic route",
		}, []string{"agreement"}),
		CacheOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_cache_operations_total",
			Help: "Session cache operations by operation and result",
		}, []string{"operation", "result"}),
		CacheHealthy: f.NewGauge(prometheus.GaugeOpts{
			Name: "onboarding_cache_healthy",
			Help: "1 when the session cache answered its last probe",
		}),
		CacheEnabled: f.NewGauge(prometheus.GaugeOpts{
			Name: "onboarding_state_cache_enabled",
			Help: "1 when the state store reads and writes through the cache; fixed at startup",
		}),
		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboarding_store_duration_seconds",
			Help:    "Durable store operation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_events_published_total",
			Help: "Change notifications by sink and result",
		}, []string{"sink", "result"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_events_dropped_total",
			Help: "Change notifications dropped because the buffer was full or the sink circuit was open",
		}),
		RegistrarRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_registrar_requests_total",
			Help: "Entity registrar attempts by outcome",
		}, []string{"outcome"}),
		RegistrarDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboarding_registrar_request_duration_seconds",
			Help:    "Entity registrar request latency",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboarding_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(status string, steps int) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunSteps.Observe(float64(steps))
}

func (m *Metrics) RecordAdvice(agreed bool) {
	if m == nil {
		return
	}
	label := "disagree"
	if agreed {
		label = "agree"
	}
	m.AdvisorAgreement.WithLabelValues(label).Inc()
}

func (m *Metrics) RecordCache(operation, result string) {
	if m == nil {
		return
	}
	m.CacheOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) SetCacheHealthy(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.CacheHealthy.Set(1)
		return
	}
	m.CacheHealthy.Set(0)
}

func (m *Metrics) SetCacheEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.CacheEnabled.Set(1)
		return
	}
	m.CacheEnabled.Set(0)
}

func (m *Metrics) ObserveStore(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordEvent(sink, result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) ObserveRegistrar(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RegistrarRequests.WithLabelValues(outcome).Inc()
	m.RegistrarDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
}
