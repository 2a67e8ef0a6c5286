package threadlock

import (
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// TranscriptRepairReport summarizes what RepairToolCallPairing changed.
type TranscriptRepairReport struct {
	Messages              []models.Message
	Added                 []models.Message
	DroppedDuplicateCount int
	DroppedOrphanCount    int
}

// RepairToolCallPairing ensures every assistant tool call is immediately
// followed by its matching tool-result message, inserting a synthetic
// failed result for any call the transcript never recorded an answer for.
// Anthropic-compatible APIs reject a transcript where a tool_use block has
// no matching tool_result in the following turn.
func RepairToolCallPairing(messages []models.Message) TranscriptRepairReport {
	report := TranscriptRepairReport{Messages: make([]models.Message, 0, len(messages))}
	claimed := make(map[string]bool)

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if msg.Role != models.RoleAssistant {
			if msg.Role == models.RoleTool && !claimed[msg.ToolCallID] {
				report.DroppedOrphanCount++
				continue
			}
			report.Messages = append(report.Messages, msg)
			continue
		}

		report.Messages = append(report.Messages, msg)

		if len(msg.ToolCalls) == 0 {
			continue
		}

		results := make(map[string]models.Message, len(msg.ToolCalls))
		j := i + 1
		for ; j < len(messages); j++ {
			next := messages[j]
			if next.Role == models.RoleAssistant {
				break
			}
			if next.Role != models.RoleTool || next.ToolCallID == "" {
				continue
			}
			if !hasCall(msg.ToolCalls, next.ToolCallID) {
				report.DroppedOrphanCount++
				continue
			}
			if _, dup := results[next.ToolCallID]; dup {
				report.DroppedDuplicateCount++
				continue
			}
			results[next.ToolCallID] = next
		}

		for _, tc := range msg.ToolCalls {
			if result, ok := results[tc.CallID]; ok {
				report.Messages = append(report.Messages, result)
				claimed[tc.CallID] = true
				continue
			}
			synthetic := missingToolResult(tc.CallID, tc.Name, msg.CreatedAt)
			report.Added = append(report.Added, synthetic)
			report.Messages = append(report.Messages, synthetic)
			claimed[tc.CallID] = true
		}

		i = j - 1
	}

	return report
}

func hasCall(calls []models.ToolCall, callID string) bool {
	for _, tc := range calls {
		if tc.CallID == callID {
			return true
		}
	}
	return false
}

func missingToolResult(callID, toolName string, after time.Time) models.Message {
	if toolName == "" {
		toolName = "unknown"
	}
	created := time.Now()
	if !after.IsZero() {
		created = after.Add(time.Nanosecond)
	}
	return models.Message{
		Role:       models.RoleTool,
		ToolCallID: callID,
		Content:    fmt.Sprintf("missing tool result for %s; synthesized during transcript repair", toolName),
		CreatedAt:  created,
		Metadata:   map[string]any{"synthetic": true, "tool_name": toolName},
	}
}

// ValidateToolCallPairing returns the call IDs left without a matching tool
// result by the end of the transcript, in the order their tool calls first
// appeared.
func ValidateToolCallPairing(messages []models.Message) []string {
	pending := make(map[string]bool)
	var order []string

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				if !pending[tc.CallID] {
					pending[tc.CallID] = true
					order = append(order, tc.CallID)
				}
			}
		case models.RoleTool:
			delete(pending, msg.ToolCallID)
		}
	}

	var missing []string
	for _, id := range order {
		if pending[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
