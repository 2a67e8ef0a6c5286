package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// localBackend runs commands directly on the host against a real directory,
// for local development without Docker installed. Not process-isolated;
// SANDBOX_BACKEND=local is a developer convenience, not the reference path.
type localBackend struct {
	cfg Config
}

func newLocalBackend(cfg Config) *localBackend {
	return &localBackend{cfg: cfg}
}

func (b *localBackend) Start(ctx context.Context) error {
	return os.MkdirAll(b.cfg.Root, 0o755)
}

func (b *localBackend) Stop(ctx context.Context) error {
	return nil
}

func (b *localBackend) EnsureWorkspace(ctx context.Context, workspaceDir string) error {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return err
	}
	toolsDir := filepath.Join(workspaceDir, ".tools")
	return os.MkdirAll(toolsDir, 0o755)
}

func (b *localBackend) Exec(ctx context.Context, workspaceDir, command string, timeout time.Duration) (ExecResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = workspaceDir

	maxOut := b.cfg.MaxOutputBytes
	stdout := newLimitedBuffer(maxOut)
	stderr := newLimitedBuffer(maxOut)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode(err),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  time.Since(start),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = timeoutExitCode
	}
	return result, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func (b *localBackend) PutFile(ctx context.Context, workspaceDir, relPath string, data []byte) error {
	full := filepath.Join(workspaceDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (b *localBackend) GetFile(ctx context.Context, workspaceDir, relPath string) ([]byte, error) {
	full := filepath.Join(workspaceDir, filepath.FromSlash(relPath))
	return os.ReadFile(full)
}

func (b *localBackend) ListFiles(ctx context.Context, workspaceDir, relDir string) ([]FileInfo, error) {
	dir := workspaceDir
	if relDir != "" {
		dir = filepath.Join(workspaceDir, filepath.FromSlash(relDir))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		out = append(out, FileInfo{Name: e.Name(), Size: size, IsDir: e.IsDir()})
	}
	return out, nil
}

func (b *localBackend) DeleteFile(ctx context.Context, workspaceDir, relPath string) error {
	full := filepath.Join(workspaceDir, filepath.FromSlash(relPath))
	return os.Remove(full)
}
