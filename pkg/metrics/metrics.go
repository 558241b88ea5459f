// Package metrics exposes Prometheus instrumentation for the shared
// log, the per-client runtime, and the materializer, mirroring the
// counter/gauge/histogram registry pattern the rest of this codebase's
// HTTP and database layers used.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer labels every metric with the owning service.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "cryptlog"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds every Prometheus collector CryptLog registers.
type Metrics struct {
	// Log store metrics.
	LogAppendsTotal      *prometheus.CounterVec
	LogAppendRejected    prometheus.Counter
	LogHighestIndex      prometheus.Gauge
	LogActiveStreams     prometheus.Gauge

	// Runtime (per-client sync) metrics.
	RuntimeSyncDuration  *prometheus.HistogramVec
	RuntimeEntriesApplied *prometheus.CounterVec

	// Materializer metrics.
	SnapshotRoundsTotal    prometheus.Counter
	SnapshotRoundDuration  prometheus.Histogram
	SnapshotFloorIndex     prometheus.Gauge

	// Remote transport metrics.
	RemoteRequestsTotal   *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec

	CustomCounters   map[string]*prometheus.CounterVec
	CustomGauges     map[string]*prometheus.GaugeVec
	CustomHistograms map[string]*prometheus.HistogramVec
	customMu         sync.RWMutex
}

// Get returns the process-wide Metrics instance, creating it on first use.
func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = New(DefaultRegisterer)
	})
	return metrics
}

// New creates a fresh Metrics collection registered against registerer.
// Pass a non-default registerer in tests to avoid "already registered"
// panics across test runs.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		LogAppendsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptlog_log_appends_total",
				Help: "Total number of entries and snapshots appended to the shared log",
			},
			[]string{"kind"}, // kind: entry, snapshot
		),
		LogAppendRejected: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "cryptlog_log_append_rejected_total",
				Help: "Total number of appends rejected due to backpressure",
			},
		),
		LogHighestIndex: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptlog_log_highest_index",
				Help: "Highest index ever assigned by the shared log",
			},
		),
		LogActiveStreams: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptlog_log_active_streams",
				Help: "Number of clients currently tailing the shared log",
			},
		),
		RuntimeSyncDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptlog_runtime_sync_duration_seconds",
				Help:    "Duration of a Runtime.Sync call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"}, // outcome: ok, error
		),
		RuntimeEntriesApplied: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptlog_runtime_entries_applied_total",
				Help: "Total number of log entries applied to registered objects",
			},
			[]string{"kind"}, // kind: entry, snapshot
		),
		SnapshotRoundsTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "cryptlog_snapshot_rounds_total",
				Help: "Total number of global snapshot rounds completed by the materializer",
			},
		),
		SnapshotRoundDuration: promauto.With(registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cryptlog_snapshot_round_duration_seconds",
				Help:    "Duration of a single global snapshot round",
				Buckets: prometheus.DefBuckets,
			},
		),
		SnapshotFloorIndex: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptlog_snapshot_floor_index",
				Help: "Log index the most recent snapshot round was taken at",
			},
		),
		RemoteRequestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptlog_remote_requests_total",
				Help: "Total number of remote log/table requests",
			},
			[]string{"operation", "status"},
		),
		RemoteRequestDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptlog_remote_request_duration_seconds",
				Help:    "Duration of remote log/table requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CustomCounters:   make(map[string]*prometheus.CounterVec),
		CustomGauges:     make(map[string]*prometheus.GaugeVec),
		CustomHistograms: make(map[string]*prometheus.HistogramVec),
	}
}

// RecordAppend records a single append or snapshot-append.
func (m *Metrics) RecordAppend(kind string, highestIndex int64) {
	m.LogAppendsTotal.WithLabelValues(kind).Inc()
	m.LogHighestIndex.Set(float64(highestIndex))
}

// RecordSync records how long a Runtime.Sync call took and its outcome.
func (m *Metrics) RecordSync(outcome string, duration time.Duration) {
	m.RuntimeSyncDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSnapshotRound records a completed global snapshot round.
func (m *Metrics) RecordSnapshotRound(floor int64, duration time.Duration) {
	m.SnapshotRoundsTotal.Inc()
	m.SnapshotRoundDuration.Observe(duration.Seconds())
	m.SnapshotFloorIndex.Set(float64(floor))
}

// RecordRemoteRequest records a remote transport call outcome.
func (m *Metrics) RecordRemoteRequest(operation, status string, duration time.Duration) {
	m.RemoteRequestsTotal.WithLabelValues(operation, status).Inc()
	m.RemoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Counter creates or returns a custom counter metric.
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if c, ok := m.CustomCounters[name]; ok {
		m.customMu.RUnlock()
		return c
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()
	if c, ok := m.CustomCounters[name]; ok {
		return c
	}
	c := promauto.With(DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	m.CustomCounters[name] = c
	return c
}

// Gauge creates or returns a custom gauge metric.
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if g, ok := m.CustomGauges[name]; ok {
		m.customMu.RUnlock()
		return g
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()
	if g, ok := m.CustomGauges[name]; ok {
		return g
	}
	g := promauto.With(DefaultRegisterer).NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	m.CustomGauges[name] = g
	return g
}
