package sandbox

import (
	"os"
	"strconv"
	"time"
)

// Config is the sandbox's resource and identity policy. Field names mirror
// the SANDBOX_* environment variables the Session Config Resolver reads
// when no per-user override is set.
type Config struct {
	// Backend selects "docker" (default) or "local".
	Backend string

	// Image is the container image used by the docker backend.
	Image string

	// Root is the workspace root: inside the container for the docker
	// backend, or a real host directory for the local backend.
	Root string

	CPULimit    string
	MemoryLimit string
	Network     string // "none" (default) or "bridge"

	MaxOutputBytes int
	DefaultTimeout time.Duration
	ContainerName  string
}

// DefaultConfig returns hardcoded fallbacks used when neither a per-user
// setting nor an environment variable supplies a value.
func DefaultConfig() Config {
	return Config{
		Backend:        "docker",
		Image:          "ghcr.io/nexus-runtime/sandbox:latest",
		Root:           "/workspace",
		CPULimit:       "2",
		MemoryLimit:    "2g",
		Network:        "none",
		MaxOutputBytes: 128 * 1024,
		DefaultTimeout: 60 * time.Second,
		ContainerName:  "nexus-sandbox",
	}
}

// ConfigFromEnv overlays SANDBOX_* environment variables on top of defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("SANDBOX_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("SANDBOX_IMAGE"); v != "" {
		cfg.Image = v
	}
	if v := os.Getenv("SANDBOX_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("SANDBOX_CPU_LIMIT"); v != "" {
		cfg.CPULimit = v
	}
	if v := os.Getenv("SANDBOX_MEMORY_LIMIT"); v != "" {
		cfg.MemoryLimit = v
	}
	if v := os.Getenv("SANDBOX_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("SANDBOX_MAX_OUTPUT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxOutputBytes = n
		}
	}
	if v := os.Getenv("SANDBOX_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DefaultTimeout = d
		}
	}
	return cfg
}
