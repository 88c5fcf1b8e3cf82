// OpenCLI daemon — serves the REST API, the WebSocket session layer for
// mobile clients, and the LAN status endpoint, backed by the task-domain
// registry and the pipeline engine.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencli/daemon/pkg/api"
	"github.com/opencli/daemon/pkg/auth"
	"github.com/opencli/daemon/pkg/config"
	"github.com/opencli/daemon/pkg/database"
	"github.com/opencli/daemon/pkg/domain"
	"github.com/opencli/daemon/pkg/domain/apps"
	"github.com/opencli/daemon/pkg/domain/calculator"
	"github.com/opencli/daemon/pkg/domain/files"
	"github.com/opencli/daemon/pkg/domain/media"
	"github.com/opencli/daemon/pkg/domain/timer"
	"github.com/opencli/daemon/pkg/domain/weather"
	"github.com/opencli/daemon/pkg/store"
	"github.com/opencli/daemon/pkg/version"
	"github.com/opencli/daemon/pkg/ws"
)

const (
	defaultHTTPPort = 9529
	wsPort          = 9876
	statusPort      = 9875
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePort reads the optional positional port argument. Anything
// unparseable falls back to the default instead of refusing to start.
func resolvePort(args []string) int {
	if len(args) < 2 {
		return defaultHTTPPort
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port <= 0 || port > 65535 {
		slog.Warn("Invalid port argument, using default",
			"arg", args[1], "default", defaultHTTPPort)
		return defaultHTTPPort
	}
	return port
}

func main() {
	httpPort := resolvePort(os.Args)

	// 1. Resolve the data directory (~/.opencli)
	dataDir, err := config.HomeDir()
	if err != nil {
		slog.Error("Failed to resolve data directory", "error", err)
		os.Exit(1)
	}

	// Load .env from the data directory
	envPath := filepath.Join(dataDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting OpenCLI daemon",
		"version", version.Full(),
		"http_port", httpPort,
		"data_dir", dataDir)

	ctx := context.Background()
	cfg := config.NewManager(dataDir)

	// 2. Initialize database
	dbClient, err := database.NewClient(ctx, filepath.Join(dataDir, "opencli.db"))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", dbClient.Path())

	st := store.New(dbClient.DB())
	logger := slog.Default()

	// 3. Register task domains
	registry := domain.NewRegistry()
	secret := getEnv("OPENCLI_SECRET", auth.DefaultSecret)
	sessions := ws.New(registry, st, secret, logger)

	domains := []domain.TaskDomain{
		calculator.New(),
		weather.New(),
		timer.New(func(label string, minutes int) {
			sessions.Broadcast(map[string]any{
				"type":    "timer_complete",
				"label":   label,
				"minutes": minutes,
			})
		}),
		apps.New(),
		files.New(),
		media.New(cfg, logger),
	}
	for _, d := range domains {
		if err := registry.Register(d); err != nil {
			slog.Error("Failed to register domain", "domain", d.ID(), "error", err)
			os.Exit(1)
		}
	}
	registry.InitializeAll(ctx)
	domain.SetGlobal(registry)
	slog.Info("Domains registered",
		"count", len(registry.Domains()),
		"task_types", len(registry.TaskTypes()))

	// 4. Create the three listeners
	httpServer := api.NewServer(cfg, dbClient, st, registry, sessions, logger)
	wsServer := api.NewWSServer(sessions, logger)
	statusServer := api.NewStatusServer(httpServer, sessions, logger)

	// A secondary listener losing its port is not fatal — the main API stays
	// up and carries the same protocol on /ws.
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + strconv.Itoa(httpPort)); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()
	go func() {
		if err := wsServer.Start(":" + strconv.Itoa(wsPort)); err != nil && err != http.ErrServerClosed {
			slog.Error("WebSocket server error", "port", wsPort, "error", err)
		}
	}()
	go func() {
		if err := statusServer.Start(":" + strconv.Itoa(statusPort)); err != nil && err != http.ErrServerClosed {
			slog.Error("Status server error", "port", statusPort, "error", err)
		}
	}()

	slog.Info("OpenCLI daemon started",
		"http_port", httpPort, "ws_port", wsPort, "status_port", statusPort)

	// 5. Wait for shutdown signal or main listener error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 6. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("WebSocket server shutdown error", "error", err)
	}
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Status server shutdown error", "error", err)
	}

	registry.DisposeAll(shutdownCtx)
	slog.Info("Shutdown complete")
}
