package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metrics, registered on the default registry by promauto.

var (
	// HttpRequestsTotal counts API requests by method, route and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorrag_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures API response time.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorrag_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// TotalVectors tracks the number of nodes in the graph.
	TotalVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kektorrag_vectors_total",
			Help: "Total number of indexed vectors",
		},
	)

	// SearchDuration measures FindSimilarVectors latency.
	// Buckets go from a few microseconds (small graphs) to a second.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kektorrag_search_duration_seconds",
			Help:    "Duration of similarity searches in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
	)

	// StoreOperations counts record store calls by operation and outcome.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorrag_store_operations_total",
			Help: "Record store operations by type and status",
		},
		[]string{"op", "status"},
	)

	// IndexBuildDuration measures full graph rebuilds from the store.
	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kektorrag_index_build_duration_seconds",
			Help:    "Duration of index rebuilds in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)
)

// ObserveStore records the outcome of one store call.
func ObserveStore(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperations.WithLabelValues(op, status).Inc()
}
