package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = "local"
	cfg.Root = t.TempDir()
	cfg.MaxOutputBytes = 1024
	cfg.DefaultTimeout = 5 * time.Second
	return New(cfg)
}

func TestSandbox_EnsureTransitionsToReady(t *testing.T) {
	s := newTestSandbox(t)
	if s.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %v", s.State())
	}
	if err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("expected ready, got %v", s.State())
	}
}

func TestSandbox_ExecRunsInWorkspace(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	result, err := s.Exec(ctx, "alice", "echo hello", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestSandbox_ExecHidesWorkspacePath(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	result, err := s.Exec(ctx, "alice", "pwd", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "." {
		t.Errorf("stdout = %q, want workspace path hidden as .", result.Stdout)
	}
}

func TestSandbox_PutGetListDelete(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	if err := s.PutFile(ctx, "bob", "notes/a.txt", []byte("hi")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	data, err := s.GetFile(ctx, "bob", "notes/a.txt")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("GetFile = %q, want hi", data)
	}

	entries, err := s.List(ctx, "bob", "notes")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("List = %+v, want one entry a.txt", entries)
	}

	if err := s.Delete(ctx, "bob", "notes/a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetFile(ctx, "bob", "notes/a.txt"); err == nil {
		t.Error("expected GetFile to fail after Delete")
	}
}

func TestSandbox_PathEscapeRejected(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	_, err := s.GetFile(ctx, "alice", "../../etc/passwd")
	if err == nil {
		t.Fatal("expected path-escape error")
	}
	if agent.KindOf(err) != agent.KindPathEscape {
		t.Errorf("got kind %v, want path-escape", agent.KindOf(err))
	}
}

func TestSandbox_WorkspacesAreIsolatedPerUser(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	if err := s.PutFile(ctx, "alice", "secret.txt", []byte("alice-only")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if _, err := s.GetFile(ctx, "bob", "secret.txt"); err == nil {
		t.Error("expected bob's workspace to not see alice's file")
	}
}

func TestSandbox_OutputTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "local"
	cfg.Root = t.TempDir()
	cfg.MaxOutputBytes = 8
	s := New(cfg)
	ctx := context.Background()

	result, err := s.Exec(ctx, "alice", "echo 0123456789abcdef", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !result.Truncated {
		t.Error("expected Truncated to be true")
	}
	if !strings.HasSuffix(result.Stdout, truncationMarker) {
		t.Errorf("stdout = %q, want suffix %q", result.Stdout, truncationMarker)
	}
}

func TestSandbox_StopPreventsFurtherUse(t *testing.T) {
	s := newTestSandbox(t)
	ctx := context.Background()

	if err := s.Ensure(ctx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Ensure(ctx); err == nil {
		t.Error("expected Ensure to fail once stopped")
	}
}
