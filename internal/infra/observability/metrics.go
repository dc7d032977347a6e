package observability

import (
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var matchMethods = []domain.MatchMethod{
	domain.MatchCode,
	domain.MatchValueDate,
	domain.MatchValueName,
	domain.MatchAIDisambiguated,
	domain.MatchValueOnly,
	domain.MatchNone,
}

var externalServices = []string{"vision", "ocr", "pdf", "sink"}

// Metrics holds all Prometheus metrics for the reconciler.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	externalErrors *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	runs           *prometheus.CounterVec
	matches        *prometheus.CounterVec
	extractions    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconciler_stage_duration_seconds",
				Help:    "Duration of run stages and external calls.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_external_errors_total",
				Help: "Total errors from external capabilities.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_runs_total",
				Help: "Total reconciliation runs by final status.",
			},
			[]string{"status"},
		),
		matches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_matches_total",
				Help: "Total charges by matching tier.",
			},
			[]string{"method"},
		),
		extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_extractions_total",
				Help: "Total documents by winning extraction strategy.",
			},
			[]string{"method"},
		),
	}
}

// RecordStageDuration records the duration of a run stage or external call.
func (m *Metrics) RecordStageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrRun counts a finished run ("success", "failed" or "cancelled").
func (m *Metrics) IncrRun(status string) {
	m.runs.WithLabelValues(status).Inc()
}

// IncrMatch counts one charge outcome by tier.
func (m *Metrics) IncrMatch(method domain.MatchMethod) {
	m.matches.WithLabelValues(string(method)).Inc()
}

// IncrExtraction counts one extracted document by strategy.
func (m *Metrics) IncrExtraction(method domain.ExtractionMethod) {
	m.extractions.WithLabelValues(string(method)).Inc()
}

// Snapshot reads the counters back for GET /v1/reconciliations/stats.
func (m *Metrics) Snapshot() *domain.ReconciliationStats {
	stats := &domain.ReconciliationStats{
		RunsSucceeded:   int64(getCounterValue(m.runs, "success")),
		RunsFailed:      int64(getCounterValue(m.runs, "failed")),
		MatchesByMethod: make(map[string]int64, len(matchMethods)),
		ExternalErrors:  make(map[string]int64, len(externalServices)),
	}
	for _, method := range matchMethods {
		stats.MatchesByMethod[string(method)] = int64(getCounterValue(m.matches, string(method)))
	}
	for _, svc := range externalServices {
		stats.ExternalErrors[svc] = int64(getCounterValue(m.externalErrors, svc))
	}

	hits := getCounterValue(m.cacheHits, "extraction")
	misses := getCounterValue(m.cacheMisses, "extraction")
	if hits+misses > 0 {
		stats.CacheHitRate = hits / (hits + misses)
	}
	return stats
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
