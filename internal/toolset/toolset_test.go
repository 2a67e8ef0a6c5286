package toolset

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

func newTestSandbox(t *testing.T) *sandbox.Sandbox {
	t.Helper()
	cfg := sandbox.DefaultConfig()
	cfg.Backend = "local"
	cfg.Root = t.TempDir()
	cfg.MaxOutputBytes = 4096
	cfg.DefaultTimeout = 5 * time.Second
	return sandbox.New(cfg)
}

func withSession(userID string) context.Context {
	return WithSessionContext(context.Background(), SessionContext{UserID: userID, ThreadID: "t1"})
}

func TestShellExecTool_RunsCommand(t *testing.T) {
	tool := NewShellExecTool(newTestSandbox(t))
	ctx := withSession("alice")

	params, _ := json.Marshal(map[string]any{"command": "echo hi"})
	result, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "hi") {
		t.Errorf("content = %q, want to contain hi", result.Content)
	}
}

func TestShellExecTool_NonZeroExitAppendsCode(t *testing.T) {
	tool := NewShellExecTool(newTestSandbox(t))
	ctx := withSession("alice")

	params, _ := json.Marshal(map[string]any{"command": "exit 3"})
	result, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "[exit code 3]") {
		t.Errorf("content = %q, want exit code suffix", result.Content)
	}
}

func TestShellExecTool_MissingSessionContext(t *testing.T) {
	tool := NewShellExecTool(newTestSandbox(t))

	params, _ := json.Marshal(map[string]any{"command": "echo hi"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for missing session context")
	}
}

func TestWriteFileAndReadFileTools_RoundTrip(t *testing.T) {
	sb := newTestSandbox(t)
	writeTool := NewWriteFileTool(sb)
	readTool := NewReadFileTool(sb)
	ctx := withSession("bob")

	writeParams, _ := json.Marshal(map[string]any{"path": "notes.txt", "content": "hello"})
	if _, err := writeTool.Execute(ctx, writeParams); err != nil {
		t.Fatalf("write Execute: %v", err)
	}

	readParams, _ := json.Marshal(map[string]any{"path": "notes.txt"})
	result, err := readTool.Execute(ctx, readParams)
	if err != nil {
		t.Fatalf("read Execute: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("content = %q, want hello", result.Content)
	}
}

func TestWriteFileTool_Append(t *testing.T) {
	sb := newTestSandbox(t)
	writeTool := NewWriteFileTool(sb)
	readTool := NewReadFileTool(sb)
	ctx := withSession("bob")

	first, _ := json.Marshal(map[string]any{"path": "log.txt", "content": "a"})
	second, _ := json.Marshal(map[string]any{"path": "log.txt", "content": "b", "mode": "append"})
	if _, err := writeTool.Execute(ctx, first); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if _, err := writeTool.Execute(ctx, second); err != nil {
		t.Fatalf("write second: %v", err)
	}

	readParams, _ := json.Marshal(map[string]any{"path": "log.txt"})
	result, err := readTool.Execute(ctx, readParams)
	if err != nil {
		t.Fatalf("read Execute: %v", err)
	}
	if result.Content != "ab" {
		t.Errorf("content = %q, want ab", result.Content)
	}
}

func TestReadFileTool_PathEscapeReturnsError(t *testing.T) {
	sb := newTestSandbox(t)
	readTool := NewReadFileTool(sb)
	ctx := withSession("bob")

	params, _ := json.Marshal(map[string]any{"path": "../../etc/passwd"})
	_, err := readTool.Execute(ctx, params)
	if err == nil {
		t.Fatal("expected path-escape error")
	}
	if agent.KindOf(err) != agent.KindPathEscape {
		t.Errorf("got kind %v, want path-escape", agent.KindOf(err))
	}
}

func TestWriteFileTool_MissingPath(t *testing.T) {
	sb := newTestSandbox(t)
	writeTool := NewWriteFileTool(sb)
	ctx := withSession("bob")

	params, _ := json.Marshal(map[string]any{"content": "x"})
	result, err := writeTool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for missing path")
	}
}
