// Package metrics defines the Prometheus collectors used by the relevance
// pipeline and exposes an HTTP handler for scraping. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relevance"

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	QueriesTotal         *prometheus.CounterVec
	CorrectionsTotal     prometheus.Counter
	ExpansionsTotal      *prometheus.CounterVec
	RecordsClassified    *prometheus.CounterVec
	RecordsHidden        *prometheus.CounterVec
	CacheRequestsTotal   *prometheus.CounterVec
	ArchiveRequestsTotal *prometheus.CounterVec
	EventsTotal          *prometheus.CounterVec
	StageLatency         *prometheus.HistogramVec
	CombinedScore        prometheus.Histogram
	VocabularySize       prometheus.Gauge
	VocabularyEvictions  prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them on reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Queries processed by outcome (ok, archive_fallback, error).",
			},
			[]string{"outcome"},
		),
		CorrectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spelling_corrections_total",
				Help:      "Tokens rewritten by the spell corrector.",
			},
		),
		ExpansionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expansions_total",
				Help:      "Query expansions produced by kind (hybrid, alternative).",
			},
			[]string{"kind"},
		),
		RecordsClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_classified_total",
				Help:      "Records classified by resulting severity.",
			},
			[]string{"severity"},
		),
		RecordsHidden: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_hidden_total",
				Help:      "Records hidden by the active filter mode.",
			},
			[]string{"mode"},
		),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Result cache lookups by namespace and result (hit, miss, error).",
			},
			[]string{"namespace", "result"},
		),
		ArchiveRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_requests_total",
				Help:      "Archive searches by status (ok, fallback, error).",
			},
			[]string{"status"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analytics_events_total",
				Help:      "Analytics events by status (published, dropped, failed).",
			},
			[]string{"status"},
		),
		StageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"stage"},
		),
		CombinedScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "combined_score",
				Help:      "Distribution of combined relevance scores.",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		VocabularySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "vocabulary_size",
				Help:      "Tokens resident in the spell corrector's frequency model.",
			},
		),
		VocabularyEvictions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "vocabulary_evictions",
				Help:      "Tokens evicted from the frequency model since start.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.QueriesTotal,
		m.CorrectionsTotal,
		m.ExpansionsTotal,
		m.RecordsClassified,
		m.RecordsHidden,
		m.CacheRequestsTotal,
		m.ArchiveRequestsTotal,
		m.EventsTotal,
		m.StageLatency,
		m.CombinedScore,
		m.VocabularySize,
		m.VocabularyEvictions,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveStage records the latency of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// Query counts one processed query.
func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

// Corrections counts rewritten tokens.
func (m *Metrics) Corrections(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CorrectionsTotal.Add(float64(n))
}

// Expansion counts one expansion product.
func (m *Metrics) Expansion(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpansionsTotal.WithLabelValues(kind).Add(float64(n))
}

// Classified counts one classified record.
func (m *Metrics) Classified(severity string) {
	if m == nil {
		return
	}
	m.RecordsClassified.WithLabelValues(severity).Inc()
}

// Hidden counts records hidden under mode.
func (m *Metrics) Hidden(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsHidden.WithLabelValues(mode).Add(float64(n))
}

// Cache counts one cache lookup.
func (m *Metrics) Cache(namespace, result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(namespace, result).Inc()
}

// Archive counts one archive call.
func (m *Metrics) Archive(status string) {
	if m == nil {
		return
	}
	m.ArchiveRequestsTotal.WithLabelValues(status).Inc()
}

// Event counts analytics events by status.
func (m *Metrics) Event(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsTotal.WithLabelValues(status).Add(float64(n))
}

// Score records one combined score.
func (m *Metrics) Score(v float64) {
	if m == nil {
		return
	}
	m.CombinedScore.Observe(v)
}

// Vocabulary records the frequency model size and eviction count.
func (m *Metrics) Vocabulary(size int, evictions int64) {
	if m == nil {
		return
	}
	m.VocabularySize.Set(float64(size))
	m.VocabularyEvictions.Set(float64(evictions))
}

// BreakerState records a circuit breaker state as its numeric value.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler for g. A nil g uses
// the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
