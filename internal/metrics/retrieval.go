package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval Prometheus metrics.
var (
	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meinrag",
			Name:      "retrieval_requests_total",
			Help:      "Total number of retrieval requests",
		},
		[]string{"strategy", "status"},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meinrag",
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	RerankFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meinrag",
			Name:      "rerank_fallbacks_total",
			Help:      "Re-rank judge failures recovered by keeping the first-stage ranking",
		},
	)

	HybridDegradationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meinrag",
			Name:      "hybrid_degradations_total",
			Help:      "Hybrid queries served by a single source after the other failed",
		},
		[]string{"failed_source"},
	)

	LexicalBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meinrag",
			Name:      "lexical_build_duration_seconds",
			Help:      "Per-query BM25 index build duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers Prometheus retrieval metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(RetrievalRequestsTotal)
	prometheus.MustRegister(RetrievalDuration)
	prometheus.MustRegister(RerankFallbacksTotal)
	prometheus.MustRegister(HybridDegradationsTotal)
	prometheus.MustRegister(LexicalBuildDuration)
	retrievalMetricsRegistered = true
}
