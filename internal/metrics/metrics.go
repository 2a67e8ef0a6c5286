// Package metrics declares the server's Prometheus collectors. Every
// collector lives on the default registry so cmd/agentserver can mount
// promhttp.Handler() on /metrics without threading registries through every
// component constructor, matching the teacher's own http_server.go wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed turns by terminal outcome ("done",
	// "stopped", or an error Kind string).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentserver_turns_total",
		Help: "Total agent turns, labeled by terminal outcome.",
	}, []string{"outcome"})

	// TurnDuration observes one RunTurn call's wall-clock duration.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentserver_turn_duration_seconds",
		Help:    "Duration of one agent turn from RunTurn to its terminal event.",
		Buckets: prometheus.DefBuckets,
	})

	// ToolExecTotal counts tool dispatches by tool name and status.
	ToolExecTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentserver_tool_exec_total",
		Help: "Total tool executions, labeled by tool name and status.",
	}, []string{"tool", "status"})

	// SandboxExecDuration observes one Sandbox.Exec call's duration.
	SandboxExecDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentserver_sandbox_exec_duration_seconds",
		Help:    "Duration of one sandbox command execution.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	// CheckpointWritesTotal counts checkpoint store Put calls by backend
	// and outcome.
	CheckpointWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentserver_checkpoint_writes_total",
		Help: "Total checkpoint store writes, labeled by backend and outcome.",
	}, []string{"backend", "outcome"})

	// SandboxState reports the current lifecycle state as a gauge with one
	// active label value at a time (1 for the active state, 0 otherwise is
	// not modeled; callers set the single gauge to the enumerated value).
	SandboxState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentserver_sandbox_state",
		Help: "Current sandbox lifecycle state (1 = active) labeled by state name.",
	}, []string{"state"})
)
