package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_chat_requests_total",
			Help: "Total chat requests processed",
		},
		[]string{"status"},
	)

	ChatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_chat_duration_seconds",
			Help:    "End-to-end chat request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	StreamTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_stream_tokens_total",
			Help: "Total tokens emitted over streaming responses",
		},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_retrieved_chunks",
			Help:    "Number of chunks retrieved per query",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 40},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(ChatRequests)
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(StreamTokens)
	prometheus.MustRegister(RetrievedChunks)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
