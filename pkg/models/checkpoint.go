package models

// Checkpoint is an opaque blob representing the full recoverable agent state
// after some transition. Sequences form a chain per thread; a resumed turn
// always reads the greatest sequence.
type Checkpoint struct {
	ThreadID       string `json:"thread_id"`
	Sequence       int64  `json:"sequence"`
	Payload        []byte `json:"payload"`
	ParentSequence *int64 `json:"parent_sequence,omitempty"`
}

// SessionConfig is resolved per turn. It is ephemeral and never persisted.
type SessionConfig struct {
	ThreadID        string
	UserID          string
	LLMModel        string
	APIKey          string
	BaseURL         string
	MaxOutputTokens int
	RecursionBound  int
	Extra           map[string]any
}

// AgentKey is the memoization key for the Agent Factory. Agent instances are
// shared across users when keys collide.
type AgentKey struct {
	LLMModel        string
	APIKey          string
	BaseURL         string
	MaxOutputTokens int
}

// FromSessionConfig derives the AgentKey a SessionConfig resolves to.
func AgentKeyFromSessionConfig(cfg SessionConfig) AgentKey {
	return AgentKey{
		LLMModel:        cfg.LLMModel,
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
}
