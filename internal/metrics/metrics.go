package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "apilookup"

// Metrics holds the Prometheus collectors for indexing and queries.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	artifactsTotal  *prometheus.CounterVec
	recordsIngested prometheus.Counter
	parseErrors     prometheus.Counter
	ingestDuration  prometheus.Histogram
	syncDuration    prometheus.Histogram
	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	cacheTotal      *prometheus.CounterVec
	indexedRecords  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		artifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Artifacts seen by sync, by outcome",
		}, []string{"outcome"}), // "reindexed" / "skipped" / "failed" / "removed"

		recordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Total tag records written",
		}),

		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Artifact lines skipped because they were not valid JSON",
		}),

		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of a single artifact ingestion",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a directory sync",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total queries, by operation and status",
		}, []string{"op", "status"}),

		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),

		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_cache_total",
			Help:      "Exact lookup cache hits and misses",
		}, []string{"result"}),

		indexedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_records",
			Help:      "Tag records in the index after the last sync",
		}),
	}

	reg.MustRegister(
		m.artifactsTotal, m.recordsIngested, m.parseErrors,
		m.ingestDuration, m.syncDuration,
		m.queriesTotal, m.queryDuration,
		m.cacheTotal, m.indexedRecords,
	)
	return m
}

// ObserveIngest records one committed ingestion.
func (m *Metrics) ObserveIngest(records, parseErrors int, d time.Duration) {
	if m == nil {
		return
	}
	m.recordsIngested.Add(float64(records))
	m.parseErrors.Add(float64(parseErrors))
	m.ingestDuration.Observe(d.Seconds())
}

// ArtifactOutcome counts an artifact sync decision.
func (m *Metrics) ArtifactOutcome(outcome string) {
	if m == nil {
		return
	}
	m.artifactsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSync records a finished directory sync.
func (m *Metrics) ObserveSync(totalRecords int, d time.Duration) {
	if m == nil {
		return
	}
	m.indexedRecords.Set(float64(totalRecords))
	m.syncDuration.Observe(d.Seconds())
}

// ObserveQuery records a query and its outcome.
func (m *Metrics) ObserveQuery(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.queriesTotal.WithLabelValues(op, status).Inc()
	m.queryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// CacheResult counts a lookup cache hit or miss.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(result).Inc()
}
