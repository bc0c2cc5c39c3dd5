package turn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// turnsTotal counts turns by terminal status.
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_turns_total",
			Help: "Total number of turns by terminal status",
		},
		[]string{"status"},
	)

	// turnDuration observes wall-clock turn duration.
	turnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_turn_duration_seconds",
			Help:    "Duration of a full turn in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// turnIterations observes how many act-observe iterations a turn used.
	turnIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_turn_iterations",
			Help:    "Act-observe iterations used per turn",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)
)
