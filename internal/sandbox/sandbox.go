// Package sandbox provides the single shared, resource-limited execution
// environment that backs every shell_exec/write_file/read_file tool call,
// isolating callers from each other by per-user working directory rather
// than by per-call container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/metrics"
	"github.com/haasonsaas/nexus/internal/retry"
)

var tracer = otel.Tracer("github.com/haasonsaas/nexus/internal/sandbox")

// errBackendGone is wrapped by a backend when it discovers the underlying
// runtime (container) is missing, so Sandbox can transition back to
// uninitialized and re-ensure on the next call instead of staying degraded.
var errBackendGone = errors.New("sandbox: backend runtime is gone")

// hidePath rewrites every occurrence of the workspace's absolute path in s
// with "." so callers never see the physical path on disk or in-container.
func hidePath(s, dir string) string {
	if dir == "" {
		return s
	}
	return strings.ReplaceAll(s, dir, ".")
}

// State is the sandbox's lifecycle stage.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateStopped       State = "stopped"
)

// workspace tracks the lazily-provisioned per-user subtree.
type workspace struct {
	mu          sync.Mutex
	provisioned bool
}

// Sandbox owns the single backend instance shared by every user and turn.
// Its own state transitions (ensure/degrade) are serialized by mu; the
// per-workspace locks below only guard first-use tool-asset provisioning,
// never the exec/put/get path itself, so concurrent execs across users (or
// the same user) never contend on Sandbox's own lock.
type Sandbox struct {
	cfg     Config
	backend Backend

	mu    sync.Mutex
	state State

	workspacesMu sync.Mutex
	workspaces   map[string]*workspace
}

// New constructs a Sandbox in the uninitialized state. It does not start
// the backend; call Ensure (directly, or implicitly via any operation).
func New(cfg Config) *Sandbox {
	return &Sandbox{
		cfg:        cfg,
		backend:    newBackend(cfg),
		state:      StateUninitialized,
		workspaces: map[string]*workspace{},
	}
}

func newBackend(cfg Config) Backend {
	if cfg.Backend == "local" {
		return newLocalBackend(cfg)
	}
	return newDockerBackend(cfg)
}

// State reports the sandbox's current lifecycle stage.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState updates the sandbox's lifecycle state and the corresponding
// gauge. Callers must hold s.mu.
func (s *Sandbox) setState(state State) {
	s.state = state
	metrics.SandboxState.Reset()
	metrics.SandboxState.WithLabelValues(string(state)).Set(1)
}

// Ensure brings the backend to ready, idempotently. Safe for concurrent
// callers: only the first gets to actually start the backend, the rest
// wait on the same mutex and observe its outcome.
func (s *Sandbox) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReady {
		return nil
	}
	if s.state == StateStopped {
		return agent.NewCoreError(agent.KindSandboxUnavail, errors.New("sandbox has been stopped"))
	}

	s.setState(StateStarting)
	result := retry.Do(ctx, retry.SandboxStartConfig(), func() error {
		return s.backend.Start(ctx)
	})
	if result.Err != nil {
		s.setState(StateDegraded)
		return agent.NewCoreError(agent.KindSandboxUnavail, fmt.Errorf("sandbox start: %w", result.Err))
	}

	s.setState(StateReady)
	return nil
}

// degrade marks the sandbox unhealthy so the next operation re-ensures it.
// Called when a backend operation reports the runtime itself is gone
// (container missing), as opposed to an ordinary command failure.
func (s *Sandbox) degrade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.setState(StateUninitialized)
	}
}

func (s *Sandbox) workspaceDir(userID string) string {
	return path.Join(s.cfg.Root, userID)
}

func (s *Sandbox) getWorkspace(userID string) *workspace {
	s.workspacesMu.Lock()
	defer s.workspacesMu.Unlock()
	w, ok := s.workspaces[userID]
	if !ok {
		w = &workspace{}
		s.workspaces[userID] = w
	}
	return w
}

// ensureWorkspace provisions userID's subtree and .tools/ asset tree on
// first use. Later concurrent callers for the same user wait on the
// per-workspace lock only until provisioned flips true, then proceed
// without it, per the spec's provisioning-only-lock contract.
func (s *Sandbox) ensureWorkspace(ctx context.Context, userID string) (string, error) {
	if err := s.Ensure(ctx); err != nil {
		return "", err
	}

	dir := s.workspaceDir(userID)
	w := s.getWorkspace(userID)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.provisioned {
		return dir, nil
	}
	if err := s.backend.EnsureWorkspace(ctx, dir); err != nil {
		return "", s.classify(err)
	}
	w.provisioned = true
	return dir, nil
}

// classify maps a raw backend error onto the sandbox-unavailable kind
// unless it already carries a more specific CoreError classification
// (path-escape, timeout), and degrades the sandbox on runtime-missing
// errors so the next call re-ensures it.
func (s *Sandbox) classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *agent.CoreError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, errBackendGone) {
		s.degrade()
		return agent.NewCoreError(agent.KindSandboxUnavail, err)
	}
	return agent.NewCoreError(agent.KindSandboxUnavail, err)
}

// Exec runs command in userID's workspace, as documented in the
// provisioning interface. Timeout of 0 means the configured default.
func (s *Sandbox) Exec(ctx context.Context, userID, command string, timeout time.Duration) (ExecResult, error) {
	ctx, span := tracer.Start(ctx, "sandbox.exec", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()

	start := time.Now()
	status := "ok"
	defer func() {
		metrics.SandboxExecDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("status", status))
	}()

	dir, err := s.ensureWorkspace(ctx, userID)
	if err != nil {
		status = "workspace_error"
		return ExecResult{}, err
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	result, err := s.backend.Exec(ctx, dir, command, timeout)
	if err != nil {
		status = "exec_error"
		return ExecResult{}, s.classify(err)
	}
	result.Stdout = hidePath(result.Stdout, dir)
	result.Stderr = hidePath(result.Stderr, dir)
	return result, nil
}

// PutFile writes relPath inside userID's workspace.
func (s *Sandbox) PutFile(ctx context.Context, userID, relPath string, data []byte) error {
	dir, err := s.ensureWorkspace(ctx, userID)
	if err != nil {
		return err
	}
	safe, err := resolveWorkspacePath(relPath)
	if err != nil {
		return err
	}
	if err := s.backend.PutFile(ctx, dir, safe, data); err != nil {
		return s.classify(err)
	}
	return nil
}

// GetFile reads relPath from userID's workspace.
func (s *Sandbox) GetFile(ctx context.Context, userID, relPath string) ([]byte, error) {
	dir, err := s.ensureWorkspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	safe, err := resolveWorkspacePath(relPath)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.GetFile(ctx, dir, safe)
	if err != nil {
		return nil, s.classify(err)
	}
	return data, nil
}

// List lists the immediate children of relDir inside userID's workspace.
func (s *Sandbox) List(ctx context.Context, userID, relDir string) ([]FileInfo, error) {
	dir, err := s.ensureWorkspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	safe := ""
	if relDir != "" && relDir != "." {
		safe, err = resolveWorkspacePath(relDir)
		if err != nil {
			return nil, err
		}
	}
	entries, err := s.backend.ListFiles(ctx, dir, safe)
	if err != nil {
		return nil, s.classify(err)
	}
	return entries, nil
}

// Delete removes relPath (file or empty subdir) from userID's workspace.
func (s *Sandbox) Delete(ctx context.Context, userID, relPath string) error {
	dir, err := s.ensureWorkspace(ctx, userID)
	if err != nil {
		return err
	}
	safe, err := resolveWorkspacePath(relPath)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteFile(ctx, dir, safe); err != nil {
		return s.classify(err)
	}
	return nil
}

// Stop tears the backend down and marks the sandbox stopped. Only used on
// server shutdown; there is no restart after Stop.
func (s *Sandbox) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.backend.Stop(ctx)
	s.setState(StateStopped)
	return err
}
