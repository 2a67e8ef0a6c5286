package agent

import (
	"log/slog"
	"time"
)

// TurnConfig is the per-turn configuration the loop builds after resolving a
// SessionConfig and before driving the agent, carrying exactly what the turn
// needs and nothing the agent's identity (model, API key) already fixed.
type TurnConfig struct {
	ThreadID string
	UserID   string

	// RecursionLimit bounds the number of LLM round-trips (stream, execute
	// tools, continue) before the turn ends with recursion-exceeded.
	RecursionLimit int

	// Extra carries opaque per-turn data a middleware may read (set by the
	// Session Config Resolver from SessionConfig.Extra).
	Extra map[string]any
}

// LoopOptions configures tool execution within the loop.
type LoopOptions struct {
	// ToolParallelism caps concurrent tool execution within one assistant
	// message's tool-call batch.
	ToolParallelism int

	// ToolTimeout applies a default timeout to each tool call.
	ToolTimeout time.Duration

	// ToolResultGuard redacts/truncates tool output before it is folded back
	// into the transcript and persisted.
	ToolResultGuard ToolResultGuard

	// Logger receives structured loop diagnostics.
	Logger *slog.Logger
}

// DefaultLoopOptions returns the baseline loop options.
func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		ToolParallelism: 4,
		ToolTimeout:     30 * time.Second,
		Logger:          slog.Default(),
	}
}
