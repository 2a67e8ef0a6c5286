package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"
)

// dockerBackend drives one long-lived container shared by every user and
// turn, as opposed to the teacher's per-call "docker run --rm". It starts
// the container once (Start), then shells into it per call with
// "docker exec" and moves files in and out with "docker cp".
//
// Resource-limit flags (--cpus, --memory/--memory-swap, --pids-limit,
// --ulimit nofile, --network none) are grounded on tools/sandbox/executor.go's
// baseDockerArgs. The non-root/dropped-capabilities flags below are not
// present in that file; they are added here to satisfy the shared sandbox's
// security contract (running as a non-privileged identity with all
// elevated capabilities dropped).
type dockerBackend struct {
	cfg           Config
	containerName string
}

func newDockerBackend(cfg Config) *dockerBackend {
	name := cfg.ContainerName
	if name == "" {
		name = "nexus-sandbox"
	}
	return &dockerBackend{cfg: cfg, containerName: name}
}

// Start reattaches to an already-running container of this name if one
// exists, otherwise creates and starts a fresh one with a named volume
// mounted at the workspace root.
func (d *dockerBackend) Start(ctx context.Context) error {
	if d.containerRunning(ctx) {
		return nil
	}
	_ = d.runDocker(ctx, "rm", "-f", d.containerName) // clear a stopped/stale container of the same name

	volume := d.containerName + "-data"
	args := []string{"run", "-d", "--name", d.containerName}
	args = append(args, d.hardeningArgs()...)
	args = append(args, "-v", volume+":"+d.cfg.Root)
	args = append(args, d.cfg.Image, "sleep", "infinity")

	if out, err := d.runDockerCombined(ctx, args...); err != nil {
		return fmt.Errorf("docker run: %w: %s", err, out)
	}
	return nil
}

func (d *dockerBackend) hardeningArgs() []string {
	args := []string{}
	if d.cfg.Network != "bridge" {
		args = append(args, "--network", "none")
	}
	args = append(args,
		"--cpus", d.cfg.CPULimit,
		"--memory", d.cfg.MemoryLimit,
		"--memory-swap", d.cfg.MemoryLimit,
		"--pids-limit", "100",
		"--ulimit", "nofile=1024:1024",
		"--user", "1000:1000",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	)
	return args
}

func (d *dockerBackend) containerRunning(ctx context.Context) bool {
	out, err := d.runDockerCombined(ctx, "inspect", "-f", "{{.State.Running}}", d.containerName)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

func (d *dockerBackend) Stop(ctx context.Context) error {
	return d.runDocker(ctx, "rm", "-f", d.containerName)
}

func (d *dockerBackend) EnsureWorkspace(ctx context.Context, workspaceDir string) error {
	return d.execRaw(ctx, "mkdir", "-p", workspaceDir, path.Join(workspaceDir, ".tools"))
}

func (d *dockerBackend) Exec(ctx context.Context, workspaceDir, command string, timeout time.Duration) (ExecResult, error) {
	if !d.containerRunning(ctx) {
		return ExecResult{}, errBackendGone
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{"exec", "-w", workspaceDir, d.containerName, "/bin/sh", "-c", command}
	cmd := exec.CommandContext(runCtx, "docker", args...)

	stdout := newLimitedBuffer(d.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(d.cfg.MaxOutputBytes)
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
		_ = d.killWorkspaceProcesses(workspaceDir)
	}
	return result, nil
}

// killWorkspaceProcesses is a best-effort watchdog cleanup: docker exec's
// own context cancellation kills the exec client, not necessarily the
// process tree it started inside the container.
func (d *dockerBackend) killWorkspaceProcesses(workspaceDir string) error {
	bg := context.Background()
	return d.execRaw(bg, "sh", "-c", "pkill -f "+shellQuote(workspaceDir)+" || true")
}

func (d *dockerBackend) execRaw(ctx context.Context, command string, argv ...string) error {
	args := append([]string{"exec", d.containerName, command}, argv...)
	_, err := d.runDockerCombined(ctx, args...)
	return err
}

func (d *dockerBackend) PutFile(ctx context.Context, workspaceDir, relPath string, data []byte) error {
	full := path.Join(workspaceDir, relPath)
	if err := d.execRaw(ctx, "mkdir", "-p", path.Dir(full)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "sandbox-put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if out, err := d.runDockerCombined(ctx, "cp", tmp.Name(), d.containerName+":"+full); err != nil {
		return fmt.Errorf("docker cp (put): %w: %s", err, out)
	}
	return nil
}

func (d *dockerBackend) GetFile(ctx context.Context, workspaceDir, relPath string) ([]byte, error) {
	full := path.Join(workspaceDir, relPath)

	tmp, err := os.CreateTemp("", "sandbox-get-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if out, err := d.runDockerCombined(ctx, "cp", d.containerName+":"+full, tmpPath); err != nil {
		return nil, fmt.Errorf("docker cp (get): %w: %s", err, out)
	}
	return os.ReadFile(tmpPath)
}

func (d *dockerBackend) ListFiles(ctx context.Context, workspaceDir, relDir string) ([]FileInfo, error) {
	dir := workspaceDir
	if relDir != "" {
		dir = path.Join(workspaceDir, relDir)
	}
	// One entry per line: "<isdir 0|1> <size> <name>".
	script := fmt.Sprintf(
		`for f in "%s"/*; do [ -e "$f" ] || continue; if [ -d "$f" ]; then d=1; else d=0; fi; printf '%%s %%s %%s\n' "$d" "$(stat -c%%s "$f" 2>/dev/null || echo 0)" "$(basename "$f")"; done`,
		dir,
	)
	args := []string{"exec", d.containerName, "/bin/sh", "-c", script}
	out, err := d.runDockerCombined(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w: %s", err, out)
	}

	var entries []FileInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			continue
		}
		size, _ := strconv.ParseInt(parts[1], 10, 64)
		entries = append(entries, FileInfo{Name: parts[2], Size: size, IsDir: parts[0] == "1"})
	}
	return entries, nil
}

func (d *dockerBackend) DeleteFile(ctx context.Context, workspaceDir, relPath string) error {
	full := path.Join(workspaceDir, relPath)
	return d.execRaw(ctx, "sh", "-c", "rmdir "+shellQuote(full)+" 2>/dev/null || rm -f "+shellQuote(full))
}

func (d *dockerBackend) runDocker(ctx context.Context, args ...string) error {
	_, err := d.runDockerCombined(ctx, args...)
	return err
}

func (d *dockerBackend) runDockerCombined(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
