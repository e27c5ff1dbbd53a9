package postgres

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics holds Prometheus metrics for Store's bookkeeping
// queries, distinct from PoolMetrics' connection-level metrics.
type StoreMetrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewStoreMetrics registers the shared query metrics under the
// kgsync_storage_* namespace.
func NewStoreMetrics() *StoreMetrics {
	return &StoreMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kgsync", Subsystem: "storage", Name: "query_duration_seconds",
				Help:    "Duration of bookkeeping storage queries",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "status"},
		),
		QueryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kgsync", Subsystem: "storage", Name: "query_errors_total",
				Help: "Total number of storage query errors",
			},
			[]string{"operation", "error_type"},
		),
	}
}
