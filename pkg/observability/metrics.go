package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus instrument a Client exposes. Every field
// here has at least one caller in pkg/vcore or pkg/storage; a field with
// no real measurement point gets removed rather than left as a stub.
type Metrics struct {
	// Request metrics, one observation per Client.Insert/Update/Delete/Search call.
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Vector operation metrics
	VectorsInserted prometheus.Counter
	VectorsDeleted  prometheus.Counter
	VectorsUpdated  prometheus.Counter
	VectorsSearched prometheus.Counter

	// Index metrics
	IndexSize *prometheus.GaugeVec

	// Search metrics
	SearchLatency    prometheus.Histogram
	SearchResultSize prometheus.Histogram

	// Cache metrics, fed by storage.HybridStorage through the
	// CacheObserver interface it satisfies structurally.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.Gauge

	// Batch operation metrics
	BatchInsertTotal    prometheus.Counter
	BatchInsertDuration prometheus.Histogram
	BatchDeleteTotal    prometheus.Counter
	BatchDeleteDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics against reg, a
// registry owned by the caller. Each vcore client gets its own registry
// instead of sharing prometheus.DefaultRegisterer, so multiple clients
// in one process never collide on metric names.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectordb_requests_total",
				Help: "Total number of requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vectordb_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectordb_request_errors_total",
				Help: "Total number of request errors by method and error kind",
			},
			[]string{"method", "error_kind"},
		),

		VectorsInserted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_vectors_inserted_total",
				Help: "Total number of vectors inserted",
			},
		),
		VectorsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_vectors_deleted_total",
				Help: "Total number of vectors deleted",
			},
		),
		VectorsUpdated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_vectors_updated_total",
				Help: "Total number of vectors updated",
			},
		),
		VectorsSearched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_vectors_searched_total",
				Help: "Total number of search operations",
			},
		),

		IndexSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vectordb_index_size",
				Help: "Number of vectors in index by namespace",
			},
			[]string{"namespace"},
		),

		SearchLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vectordb_search_latency_seconds",
				Help:    "Search latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		SearchResultSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vectordb_search_result_size",
				Help:    "Number of results returned by search",
				Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
			},
		),

		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_cache_hits_total",
				Help: "Total number of cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_cache_misses_total",
				Help: "Total number of cache misses",
			},
		),
		CacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vectordb_cache_size",
				Help: "Current number of entries in the hybrid storage cache",
			},
		),

		BatchInsertTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_batch_insert_total",
				Help: "Total number of batch insert operations",
			},
		),
		BatchInsertDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vectordb_batch_insert_duration_seconds",
				Help:    "Batch insert duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		BatchDeleteTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vectordb_batch_delete_total",
				Help: "Total number of batch delete operations",
			},
		),
		BatchDeleteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vectordb_batch_delete_duration_seconds",
				Help:    "Batch delete duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
	}
}

// RecordRequest records one Client call with its outcome and duration.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordError records a failed Client call by method and error kind.
func (m *Metrics) RecordError(method, errorKind string) {
	m.RequestErrors.WithLabelValues(method, errorKind).Inc()
}

// RecordInsert records a vector insertion.
func (m *Metrics) RecordInsert(count int) {
	m.VectorsInserted.Add(float64(count))
}

// RecordDelete records a vector deletion.
func (m *Metrics) RecordDelete(count int) {
	m.VectorsDeleted.Add(float64(count))
}

// RecordUpdate records a vector update.
func (m *Metrics) RecordUpdate(count int) {
	m.VectorsUpdated.Add(float64(count))
}

// RecordSearch records a search operation.
func (m *Metrics) RecordSearch(duration time.Duration, resultSize int) {
	m.VectorsSearched.Inc()
	m.SearchLatency.Observe(duration.Seconds())
	m.SearchResultSize.Observe(float64(resultSize))
}

// RecordCacheHit records a cache hit. Satisfies storage.CacheObserver.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a cache miss. Satisfies storage.CacheObserver.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// UpdateCacheSize sets the current cache entry count. Satisfies
// storage.CacheObserver.
func (m *Metrics) UpdateCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}

// UpdateIndexSize sets the current vector count for namespace.
func (m *Metrics) UpdateIndexSize(namespace string, size int) {
	m.IndexSize.WithLabelValues(namespace).Set(float64(size))
}

// RecordBatchInsert records one BatchInsert call's shape. The
// individual vectors inserted are already counted by the per-item
// RecordInsert calls BatchInsert makes, so this only tracks the batch
// itself: how many such calls happen and how long they take for a
// batch of successCount successful items.
func (m *Metrics) RecordBatchInsert(duration time.Duration, successCount int) {
	m.BatchInsertTotal.Inc()
	m.BatchInsertDuration.Observe(duration.Seconds())
}

// RecordBatchDelete records one BatchDelete call's shape, analogous to
// RecordBatchInsert.
func (m *Metrics) RecordBatchDelete(duration time.Duration, successCount int) {
	m.BatchDeleteTotal.Inc()
	m.BatchDeleteDuration.Observe(duration.Seconds())
}
