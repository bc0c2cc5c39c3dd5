package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// toolCallsTotal counts dispatched tool calls by tool and terminal
	// pipeline status.
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Total number of tool calls by tool name and status",
		},
		[]string{"tool_name", "status"},
	)

	// toolCallDuration observes execution duration per tool.
	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_tool_call_duration_seconds",
			Help:    "Duration of tool execution in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"tool_name"},
	)

	// approvalWait observes how long a gated call waited on a human.
	approvalWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_approval_wait_seconds",
			Help:    "Time a gated tool call spent waiting for an approval decision",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 90, 120},
		},
	)
)
