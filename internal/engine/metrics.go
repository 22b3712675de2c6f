package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turn_engine_turns_total",
			Help: "Total number of executed turns, partitioned by terminal state.",
		},
		[]string{"state"},
	)
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turn_engine_stage_duration_seconds",
			Help:    "Histogram of per-stage execution durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turn_engine_generation_attempts_total",
			Help: "Total generation attempts, partitioned by stage and outcome.",
		},
		[]string{"stage", "status"},
	)
	fallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turn_engine_fallbacks_total",
			Help: "Total deterministic fallbacks after retry exhaustion, by stage.",
		},
		[]string{"stage"},
	)
)
