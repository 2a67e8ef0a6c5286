package agentfactory

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/threadlock"
	"github.com/haasonsaas/nexus/pkg/models"
)

// toolCallRepairMiddleware synthesizes missing tool results and drops
// orphaned/duplicate ones before every turn, so a transcript truncated or
// corrupted by an earlier failure never reaches the provider with an
// unanswered tool_use block. Grounded on internal/sessions/transcript_repair.go
// (teacher), now threadlock.RepairToolCallPairing.
func toolCallRepairMiddleware() agent.Middleware {
	return func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		report := threadlock.RepairToolCallPairing(history)
		return report.Messages, nil
	}
}

// summarizationMiddleware compacts a thread's history once it crosses
// compactor's configured token threshold. Grounded on
// internal/sessions/compaction.go (teacher), now threadlock.Compactor.
func summarizationMiddleware(compactor *threadlock.Compactor) agent.Middleware {
	return func(ctx context.Context, history []models.Message) ([]models.Message, error) {
		should, _ := compactor.ShouldCompact(history)
		if !should {
			return history, nil
		}
		compacted, _, err := compactor.Compact(ctx, history)
		if err != nil {
			return nil, fmt.Errorf("agentfactory: summarization middleware: %w", err)
		}
		return compacted, nil
	}
}

// providerSummarizer adapts an agent.LLMProvider into a
// threadlock.Summarizer, so the Agent Factory never needs a second,
// separate summarization client: the compiled agent's own provider
// generates its thread's summaries.
type providerSummarizer struct {
	provider agent.LLMProvider
}

func (s *providerSummarizer) Summarize(ctx context.Context, messages []models.Message, prompt string) (string, error) {
	transcript := renderTranscript(messages)
	req := &agent.CompletionRequest{
		System: prompt,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: transcript},
		},
		MaxTokens: 1024,
	}

	chunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarizer: start completion: %w", err)
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarizer: %w", chunk.Error)
		}
		out.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	return out.String(), nil
}

func renderTranscript(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "  tool_call %s(%s)\n", tc.Name, string(tc.Input))
		}
	}
	return b.String()
}
