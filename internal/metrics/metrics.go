// Package metrics registers the Prometheus collectors shared by the ingestion
// pipeline, the search service and the HTTP server.
//
// A nil *Metrics is valid and records nothing, so components can be built in
// tests without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docindex"

// Metrics holds every collector owned by the process.
type Metrics struct {
	// ingestJobsTotal counts finished ingestion jobs by outcome:
	// "completed", "failed" or "canceled".
	ingestJobsTotal *prometheus.CounterVec

	// ingestStageSeconds records how long each pipeline stage took.
	ingestStageSeconds *prometheus.HistogramVec

	// ingestActive is the number of jobs currently running.
	ingestActive prometheus.Gauge

	// ingestQueued is the number of jobs waiting for a worker.
	ingestQueued prometheus.Gauge

	embedCallsTotal     *prometheus.CounterVec
	embedBatchSeconds   prometheus.Histogram
	embedRetriesTotal   prometheus.Counter
	embedDimMismatches  prometheus.Counter
	searchRequestsTotal *prometheus.CounterVec
	searchSeconds       prometheus.Histogram
	searchResults       prometheus.Histogram
	httpRequestsTotal   *prometheus.CounterVec
	httpSeconds         *prometheus.HistogramVec
}

// New registers all collectors against reg. promauto.With(reg) keeps tests
// hermetic when they pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ingestJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Finished ingestion jobs, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestStageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each ingestion stage.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),

		ingestActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "active_jobs",
			Help:      "Ingestion jobs currently running on a worker.",
		}),

		ingestQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queued_jobs",
			Help:      "Ingestion jobs waiting for a worker.",
		}),

		embedCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Embedding provider calls, partitioned by outcome.",
		}, []string{"outcome"}),

		embedBatchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one embedding batch, excluding the inter-batch delay.",
			Buckets:   prometheus.DefBuckets,
		}),

		embedRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "retries_total",
			Help:      "Embedding calls retried after a failure.",
		}),

		embedDimMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "dimension_mismatches_total",
			Help:      "Vectors returned with a length different from the configured dimension.",
		}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests, partitioned by outcome.",
		}, []string{"outcome"}),

		searchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency including query embedding.",
			Buckets:   prometheus.DefBuckets,
		}),

		searchResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per search.",
			Buckets:   []float64{0, 1, 3, 5, 10, 25, 50, 100},
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, partitioned by method, route and status code.",
		}, []string{"method", "route", "code"}),

		httpSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) JobFinished(outcome string) {
	if m == nil {
		return
	}
	m.ingestJobsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StageDone(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestStageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// JobStarted moves one job from queued to active.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ingestQueued.Dec()
	m.ingestActive.Inc()
}

func (m *Metrics) JobQueued() {
	if m == nil {
		return
	}
	m.ingestQueued.Inc()
}

func (m *Metrics) JobDone() {
	if m == nil {
		return
	}
	m.ingestActive.Dec()
}

func (m *Metrics) EmbedCall(outcome string) {
	if m == nil {
		return
	}
	m.embedCallsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EmbedBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.embedBatchSeconds.Observe(d.Seconds())
}

func (m *Metrics) EmbedRetry() {
	if m == nil {
		return
	}
	m.embedRetriesTotal.Inc()
}

func (m *Metrics) DimensionMismatch() {
	if m == nil {
		return
	}
	m.embedDimMismatches.Inc()
}

func (m *Metrics) Search(outcome string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.searchRequestsTotal.WithLabelValues(outcome).Inc()
	m.searchSeconds.Observe(d.Seconds())
	if outcome == "ok" {
		m.searchResults.Observe(float64(results))
	}
}

func (m *Metrics) HTTPRequest(method, route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.httpSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
