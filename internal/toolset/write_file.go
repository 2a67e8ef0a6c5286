package toolset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

// WriteFileTool writes to a file inside the caller's sandbox workspace.
type WriteFileTool struct {
	sandbox *sandbox.Sandbox
}

func NewWriteFileTool(sb *sandbox.Sandbox) *WriteFileTool {
	return &WriteFileTool{sandbox: sb}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the user's sandboxed workspace, overwriting or appending."
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the workspace root."},
			"content": {"type": "string", "description": "Content to write."},
			"mode": {"type": "string", "enum": ["overwrite", "append"], "description": "Write mode (default overwrite)."}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Mode    string `json:"mode"`
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

	data := []byte(input.Content)
	if input.Mode == "append" {
		if existing, err := t.sandbox.GetFile(ctx, sc.UserID, input.Path); err == nil {
			data = append(existing, data...)
		} else if agent.KindOf(err) == agent.KindPathEscape {
			// Surface the same escape error PutFile would hit below.
			return nil, err
		}
		// Any other read failure (e.g. file doesn't exist yet) just means
		// append starts from empty content.
	}

	if err := t.sandbox.PutFile(ctx, sc.UserID, input.Path, data); err != nil {
		return nil, err
	}

	return &agent.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(data), input.Path)}, nil
}
