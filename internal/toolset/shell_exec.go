package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

// ShellExecTool runs a shell command in the caller's sandbox workspace.
type ShellExecTool struct {
	sandbox *sandbox.Sandbox
}

// NewShellExecTool wraps sb for LLM function calling.
func NewShellExecTool(sb *sandbox.Sandbox) *ShellExecTool {
	return &ShellExecTool{sandbox: sb}
}

func (t *ShellExecTool) Name() string { return "shell_exec" }

func (t *ShellExecTool) Description() string {
	return "Run a shell command in the user's sandboxed workspace and return its combined stdout and stderr."
}

func (t *ShellExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to run."},
			"timeout": {"type": "integer", "description": "Timeout in seconds (optional)."}
		},
		"required": ["command"]
	}`)
}

func (t *ShellExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Command == "" {
		return errorResult("command is required"), nil
	}

	sc, ok := SessionContextFrom(ctx)
	if !ok || sc.UserID == "" {
		return errorResult("no session context for this call"), nil
	}

	var timeout time.Duration
	if input.Timeout > 0 {
		timeout = time.Duration(input.Timeout) * time.Second
	}

	result, err := t.sandbox.Exec(ctx, sc.UserID, input.Command, timeout)
	if err != nil {
		return nil, err
	}

	out := result.Stdout + result.Stderr
	if result.ExitCode != 0 {
		out += fmt.Sprintf("\n[exit code %d]", result.ExitCode)
	}
	return &agent.ToolResult{Content: out}, nil
}
