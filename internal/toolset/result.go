package toolset

import "github.com/haasonsaas/nexus/internal/agent"

// errorResult builds an error ToolResult for input-validation failures that
// the LLM should see and correct, as opposed to sandbox-level failures
// (path-escape, sandbox-unavailable) which are returned as a Go error so
// the loop can classify and log them by Kind.
func errorResult(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}
