package models

import "testing"

func TestToolCallStatusLifecycle(t *testing.T) {
	tc := ToolCall{CallID: "c1", Name: "shell_exec", Status: ToolCallPending}
	tc.Status = ToolCallRunning
	tc.Output = []byte(`"ok"`)
	tc.Status = ToolCallSucceeded
	if tc.Status != ToolCallSucceeded {
		t.Fatalf("expected succeeded, got %s", tc.Status)
	}
}

func TestMessageToolReference(t *testing.T) {
	assistant := Message{ID: "m1", Role: RoleAssistant, OrderIndex: 1, ToolCalls: []ToolCall{{CallID: "c1", Name: "shell_exec"}}}
	toolMsg := Message{ID: "m2", Role: RoleTool, OrderIndex: 2, ToolCallID: "c1", Content: "out"}

	found := false
	for _, tc := range assistant.ToolCalls {
		if tc.CallID == toolMsg.ToolCallID {
			found = true
		}
	}
	if !found {
		t.Fatalf("tool message must reference a preceding assistant tool call")
	}
}
