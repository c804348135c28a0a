package observability

import (
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Pipeline stages reported by the cashflow_pipeline_items gauge.
const (
	StageUnified   = "unified"
	StageSurviving = "surviving"
	StageFiltered  = "filtered"
)

// Metrics holds all Prometheus metrics for the cash-flow service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	externalErrors      *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	pipelineItems       *prometheus.GaugeVec
	pipelineRuns        prometheus.Counter
	duplicatesDropped   prometheus.Counter
	unsupportedCurrency *prometheus.CounterVec
	staleResults        prometheus.Counter
	eventsPublished     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cashflow_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_external_errors_total",
				Help: "Total errors from the data backend and object storage.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		pipelineItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cashflow_pipeline_items",
				Help: "Items after each stage of the last pipeline run.",
			},
			[]string{"stage"},
		),
		pipelineRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cashflow_pipeline_runs_total",
				Help: "Total pipeline runs.",
			},
		),
		duplicatesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cashflow_duplicates_dropped_total",
				Help: "Total items removed by deduplication.",
			},
		),
		unsupportedCurrency: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_unsupported_currency_total",
				Help: "Amounts passed through without a conversion rate.",
			},
			[]string{"pair"},
		),
		staleResults: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cashflow_stale_results_total",
				Help: "Results computed before an invalidation and not cached.",
			},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_events_published_total",
				Help: "Invalidation events published to dashboard clients.",
			},
			[]string{"type"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
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

// RecordPipelineRun records the stage counts of one run.
func (m *Metrics) RecordPipelineRun(unified, surviving, filtered, dropped int) {
	m.pipelineRuns.Inc()
	m.pipelineItems.WithLabelValues(StageUnified).Set(float64(unified))
	m.pipelineItems.WithLabelValues(StageSurviving).Set(float64(surviving))
	m.pipelineItems.WithLabelValues(StageFiltered).Set(float64(filtered))
	m.duplicatesDropped.Add(float64(dropped))
}

// IncrUnsupportedCurrency counts an amount that could not be converted.
func (m *Metrics) IncrUnsupportedCurrency(from, to string) {
	m.unsupportedCurrency.WithLabelValues(from + "->" + to).Inc()
}

// IncrStaleResult counts a result discarded by the generation check.
func (m *Metrics) IncrStaleResult() {
	m.staleResults.Inc()
}

// IncrEventPublished counts an event pushed to subscribers.
func (m *Metrics) IncrEventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// GetPipelineSnapshot returns a snapshot of pipeline-related metrics suitable
// for the GET /v1/metrics/pipeline endpoint.
func (m *Metrics) GetPipelineSnapshot() *domain.PipelineMetrics {
	// Prometheus counters expose cumulative values.
	cacheHits := getCounterValue(m.cacheHits.WithLabelValues("snapshot"))
	cacheMisses := getCounterValue(m.cacheMisses.WithLabelValues("snapshot"))

	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.PipelineMetrics{
		Runs:                 int64(getCounterValue(m.pipelineRuns)),
		FetchErrors:          int64(sumCounterVec(m.externalErrors)),
		DuplicatesDropped:    int64(getCounterValue(m.duplicatesDropped)),
		UnsupportedCurrency:  int64(sumCounterVec(m.unsupportedCurrency)),
		StaleResultsRejected: int64(getCounterValue(m.staleResults)),
		CacheHitRate:         cacheHitRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value of a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every label combination of a CounterVec.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		if m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}
