package threadlock

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// CompactionStrategy names a message-history reduction approach the
// summarization middleware applies once a thread's estimated token count
// crosses its configured threshold.
type CompactionStrategy string

const (
	// StrategyLastN keeps only the last N messages, dropping everything
	// older with no summary in its place.
	StrategyLastN CompactionStrategy = "last_n"

	// StrategySummarize replaces everything but the last N messages with a
	// single generated summary message.
	StrategySummarize CompactionStrategy = "summarize"

	// StrategyHybrid behaves like StrategySummarize; kept as a distinct
	// value since a future revision may blend in importance-based retention.
	StrategyHybrid CompactionStrategy = "hybrid"
)

// CompactionConfig controls when and how the Agent Factory's summarization
// middleware reduces a thread's history before it reaches the LLM.
type CompactionConfig struct {
	Enabled       bool
	Strategy      CompactionStrategy
	MaxTokens     int
	KeepLastN     int
	SummaryPrompt string
}

// DefaultCompactionConfig is the summarization middleware's baseline: summarize
// everything older than the last 20 messages once the thread's estimated
// token count passes 50k.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:   true,
		Strategy:  StrategyHybrid,
		MaxTokens: 50000,
		KeepLastN: 20,
		SummaryPrompt: "Summarize the following conversation concisely, preserving key decisions, " +
			"facts established, and any pending tasks or action items.",
	}
}

// Summarizer generates a summary of message history. The Agent Factory
// supplies an implementation backed by the same LLM provider the agent
// otherwise uses.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message, prompt string) (string, error)
}

// CompactionResult reports what a Compact call did.
type CompactionResult struct {
	MessagesBefore int
	MessagesAfter  int
	Summary        string
	CompactedAt    time.Time
}

// Compactor rewrites older messages in a thread's history into a summary,
// preserving the last KeepLastN messages verbatim.
type Compactor struct {
	config     CompactionConfig
	summarizer Summarizer
}

// NewCompactor builds a Compactor. summarizer may be nil, in which case
// Compact falls back to plain truncation (StrategyLastN behavior).
func NewCompactor(config CompactionConfig, summarizer Summarizer) *Compactor {
	return &Compactor{config: config, summarizer: summarizer}
}

// ShouldCompact reports whether history's estimated token count crosses the
// configured threshold.
func (c *Compactor) ShouldCompact(history []models.Message) (bool, string) {
	if !c.config.Enabled {
		return false, ""
	}
	if c.config.MaxTokens > 0 {
		if tokens := EstimateTokens(history); tokens > c.config.MaxTokens {
			return true, fmt.Sprintf("estimated tokens %d exceeds threshold %d", tokens, c.config.MaxTokens)
		}
	}
	return false, ""
}

// Compact reduces history per the configured strategy.
func (c *Compactor) Compact(ctx context.Context, history []models.Message) ([]models.Message, CompactionResult, error) {
	result := CompactionResult{MessagesBefore: len(history), CompactedAt: time.Now()}

	var compacted []models.Message
	var summary string
	var err error

	switch c.config.Strategy {
	case StrategyLastN:
		compacted = c.compactLastN(history)
	case StrategySummarize, StrategyHybrid:
		compacted, summary, err = c.compactWithSummary(ctx, history)
		if err != nil {
			return nil, result, err
		}
	default:
		return nil, result, fmt.Errorf("unknown compaction strategy: %s", c.config.Strategy)
	}

	result.Summary = summary
	result.MessagesAfter = len(compacted)
	return compacted, result, nil
}

func (c *Compactor) compactLastN(history []models.Message) []models.Message {
	keep := c.config.KeepLastN
	if keep <= 0 || keep >= len(history) {
		return history
	}
	return append([]models.Message{}, history[len(history)-keep:]...)
}

func (c *Compactor) compactWithSummary(ctx context.Context, history []models.Message) ([]models.Message, string, error) {
	if c.summarizer == nil {
		return c.compactLastN(history), "", nil
	}

	keep := c.config.KeepLastN
	if keep <= 0 {
		keep = 10
	}
	if keep >= len(history) {
		return history, "", nil
	}

	toSummarize := history[:len(history)-keep]
	toKeep := history[len(history)-keep:]

	summary, err := c.summarizer.Summarize(ctx, toSummarize, c.config.SummaryPrompt)
	if err != nil {
		return nil, "", fmt.Errorf("summarization failed: %w", err)
	}

	summaryMsg := models.Message{
		Role:      models.RoleUser,
		Content:   fmt.Sprintf("[conversation summary]\n%s", summary),
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"compaction_summary": true,
			"summarized_count":   len(toSummarize),
		},
	}

	out := make([]models.Message, 0, len(toKeep)+1)
	out = append(out, summaryMsg)
	out = append(out, toKeep...)
	return out, summary, nil
}

// EstimateTokens gives a rough ~4-characters-per-token estimate over a
// message history, mirroring the heuristic an LLM provider's CountTokens
// uses, without importing the provider package (which would cycle back
// through the loop that imports threadlock for Locker).
func EstimateTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) + 20
		for _, tc := range msg.ToolCalls {
			total += len(tc.Input) + len(tc.Output)
		}
	}
	return total / 4
}
