// Package metrics provides Prometheus metrics for linksweep
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for linksweep
type Metrics struct {
	// Scan metrics
	DocumentsScannedTotal *prometheus.CounterVec
	DocumentsMatchedTotal *prometheus.CounterVec
	OccurrencesFoundTotal *prometheus.CounterVec

	// Replay metrics
	ReplayOutcomesTotal      *prometheus.CounterVec
	ReplacementsAppliedTotal prometheus.Counter

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.DocumentsScannedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linksweep_documents_scanned_total",
			Help: "Total number of documents scanned",
		},
		[]string{"collection"},
	)

	m.DocumentsMatchedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linksweep_documents_matched_total",
			Help: "Total number of scanned documents containing the target",
		},
		[]string{"collection"},
	)

	m.OccurrencesFoundTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linksweep_occurrences_found_total",
			Help: "Total number of target occurrences found",
		},
		[]string{"collection"},
	)

	m.ReplayOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linksweep_replay_outcomes_total",
			Help: "Replay entries by final state",
		},
		[]string{"collection", "state"},
	)

	m.ReplacementsAppliedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "linksweep_replacements_applied_total",
			Help: "Total number of field changes written to a store",
		},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linksweep_store_operations_total",
			Help: "Total number of document store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linksweep_store_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linksweep_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linksweep_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "linksweep_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "linksweep_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge every interval until done is closed
func (m *Metrics) RunUptime(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordScan records one scanned document
func (m *Metrics) RecordScan(collection string, occurrences int) {
	m.DocumentsScannedTotal.WithLabelValues(collection).Inc()
	if occurrences > 0 {
		m.DocumentsMatchedTotal.WithLabelValues(collection).Inc()
		m.OccurrencesFoundTotal.WithLabelValues(collection).Add(float64(occurrences))
	}
}

// RecordReplay records the final state of one replayed entry
func (m *Metrics) RecordReplay(collection, state string, applied int) {
	m.ReplayOutcomesTotal.WithLabelValues(collection, state).Inc()
	if applied > 0 {
		m.ReplacementsAppliedTotal.Add(float64(applied))
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a document store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
