package ai

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turn_engine_ai_requests_total",
			Help: "Total number of requests to the AI backend.",
		},
		[]string{"model", "status"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turn_engine_ai_request_duration_seconds",
			Help:    "Histogram of AI request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	totalTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turn_engine_ai_total_tokens",
			Help:    "Histogram of total token counts per request (prompt + completion).",
			Buckets: prometheus.LinearBuckets(350, 350, 20),
		},
		[]string{"model"},
	)
)
