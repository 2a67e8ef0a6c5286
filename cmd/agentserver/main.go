// Package main provides the CLI entry point for the agent server: a single
// HTTP endpoint that runs one agent turn per request and streams its events
// back as Server-Sent Events.
//
// # Basic Usage
//
// Start the server:
//
//	agentserver serve --config agentserver.yaml
//
// # Environment Variables
//
// Configuration can be overridden via environment variables; see
// internal/sessionconfig and internal/sandbox for the exact names
// (LLM_DEFAULT_MODEL, LLM_API_KEY, LLM_API_BASE, RECURSION_LIMIT,
// SANDBOX_*, CHECKPOINT_STORE_URL, AGENTSERVER_AUTH_TOKENS).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agentfactory"
	"github.com/haasonsaas/nexus/internal/checkpoint"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/internal/sessionconfig"
	"github.com/haasonsaas/nexus/internal/telemetry"
	"github.com/haasonsaas/nexus/internal/threadlock"
	"github.com/haasonsaas/nexus/internal/transport"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "agentserver",
		Short: "Run the agent server",
	}
	root.AddCommand(buildServeCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		Long: `Start the agent server.

The server will:
1. Load configuration from the specified file (or the hardcoded defaults)
2. Select a checkpoint store backend
3. Start the shared sandbox
4. Build the agent factory and session config resolver
5. Serve the turn endpoint over HTTP, streaming responses as SSE

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	slog.Info("starting agent server", "version", version, "commit", commit, "config", configPath, "debug", debug)

	shutdownTracing, err := telemetry.Init(telemetry.Config{
		ServiceName:    "agentserver",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Warn("tracing exporter init failed, continuing without export", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer provider shutdown error", "error", err)
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded",
		"http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"llm_provider", cfg.LLM.DefaultProvider,
		"checkpoint_url", cfg.Checkpoint.URL,
	)

	checkpoints, err := openCheckpointStore(cfg.Checkpoint.URL)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	sb := sandbox.New(sandbox.ConfigFromEnv())
	locks := threadlock.New()

	factory, err := agentfactory.New(sb, checkpoints, locks)
	if err != nil {
		return fmt.Errorf("build agent factory: %w", err)
	}

	userSettingsDir := os.Getenv("AGENTSERVER_STATE_DIR")
	users, err := sessionconfig.LoadUserSettingsStore(userSettingsDir)
	if err != nil {
		return fmt.Errorf("load user settings: %w", err)
	}
	resolver := sessionconfig.NewResolver(cfg, users)

	handler := &transport.Handler{
		Authenticate: staticTokenAuthenticator(os.Getenv("AGENTSERVER_AUTH_TOKENS")),
		Resolver:     resolver,
		Factory:      factory,
		Logger:       slog.Default(),
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/turn", handler)
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()
	slog.Info("agent server started", "addr", addr)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}

	slog.Info("agent server stopped gracefully")
	return nil
}

// openCheckpointStore selects the checkpoint backend named by url:
// "memory" (default, also used for an empty string) or a
// "sqlite://path/to/file.db" DSN.
func openCheckpointStore(url string) (checkpoint.Store, error) {
	if url == "" || url == "memory" {
		return checkpoint.NewMemStore(), nil
	}
	dsn := strings.TrimPrefix(url, "sqlite://")
	return checkpoint.NewSQLStore(dsn, checkpoint.DefaultPoolConfig())
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// staticTokenAuthenticator builds an Authenticator from a
// "token:user_id,token:user_id" list. Token verification itself is
// delegated to whatever fronts this server in production (spec.md's
// Non-goals exclude issuing or validating credentials); this is the
// minimal standalone implementation that makes the binary runnable.
func staticTokenAuthenticator(tokenList string) transport.Authenticator {
	tokens := map[string]string{}
	for _, pair := range strings.Split(tokenList, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, ":")
		if !ok || token == "" || userID == "" {
			continue
		}
		tokens[token] = userID
	}
	return func(token string) (string, bool) {
		userID, ok := tokens[token]
		return userID, ok
	}
}
