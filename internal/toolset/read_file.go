package toolset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

const readFileDisplayCap = 64 * 1024

// ReadFileTool reads a file from the caller's sandbox workspace.
type ReadFileTool struct {
	sandbox *sandbox.Sandbox
}

func NewReadFileTool(sb *sandbox.Sandbox) *ReadFileTool {
	return &ReadFileTool{sandbox: sb}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the user's sandboxed workspace."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the workspace root."}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Path == "" {
		return errorResult("path is required"), nil
	}

	sc, ok := SessionContextFrom(ctx)
	if !ok || sc.UserID == "" {
		return errorResult("no session context for this call"), nil
	}

	data, err := t.sandbox.GetFile(ctx, sc.UserID, input.Path)
	if err != nil {
		return nil, err
	}

	return &agent.ToolResult{Content: sandbox.TruncateForDisplay(string(data), readFileDisplayCap)}, nil
}
