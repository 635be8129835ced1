package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chattree_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chattree_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ConversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chattree_conversations_created_total",
		Help: "Conversations created",
	})

	CompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chattree_completions_total",
		Help: "Completion requests by action and outcome",
	}, []string{"action", "outcome"})

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chattree_streams_active",
		Help: "Generations currently streaming",
	})

	StreamChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chattree_stream_chunks_total",
		Help: "Chunks published to stream subscribers",
	})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chattree_stream_subscribers",
		Help: "Attached stream subscribers, including resumed ones",
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chattree_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chattree_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"model"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chattree_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})
)
