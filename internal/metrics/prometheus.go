package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TableQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_metrics_table_query_duration_seconds",
			Help:    "Per-table query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"query"},
	)

	TableQueryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_metrics_table_query_failures_total",
			Help: "Per-table queries that failed and contributed no rows",
		},
		[]string{"table", "query"},
	)

	SessionsServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_metrics_sessions_served_total",
			Help: "Session rows returned by aggregation",
		},
	)

	AnnotationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_metrics_annotation_outcomes_total",
			Help: "Annotation results by outcome",
		},
		[]string{"outcome"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_metrics_llm_request_duration_seconds",
			Help:    "Completion request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_metrics_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_metrics_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_metrics_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_metrics_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_metrics_exports_total",
			Help: "Exports produced by dataset and format",
		},
		[]string{"dataset", "format"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TableQueryDuration,
			TableQueryFailures,
			SessionsServed,
			AnnotationOutcomes,
			LLMRequestDuration,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			CircuitBreakerState,
			ExportsTotal,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
