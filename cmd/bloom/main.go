package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bloomlabs/bloom/pkg/agent"
	"github.com/bloomlabs/bloom/pkg/model/gemini"
	"github.com/bloomlabs/bloom/pkg/sandbox/docker"
	"github.com/bloomlabs/bloom/pkg/server"
	"github.com/bloomlabs/bloom/pkg/store/sqlite"
)

func main() {
	// Setup logger.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	// Config.
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		slog.Error("GEMINI_API_KEY environment variable not set")
		os.Exit(1)
	}

	cfg := agent.DefaultConfig()
	if image := os.Getenv("BLOOM_SANDBOX_IMAGE"); image != "" {
		cfg.Template = image
	}

	addr := os.Getenv("BLOOM_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	dbPath := os.Getenv("BLOOM_DB_PATH")
	if dbPath == "" {
		wd, _ := os.Getwd()
		dbPath = filepath.Join(wd, "data", "bloom.db")
	}
	os.MkdirAll(filepath.Dir(dbPath), 0755)

	ctx := context.Background()

	// Initialize store.
	store, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize model provider.
	provider, err := gemini.New(ctx, apiKey, os.Getenv("GEMINI_MODEL"))
	if err != nil {
		slog.Error("Failed to initialize Gemini provider", "error", err)
		os.Exit(1)
	}

	// Initialize sandbox provider.
	sandboxes, err := docker.New()
	if err != nil {
		slog.Error("Failed to initialize sandbox provider", "error", err)
		os.Exit(1)
	}
	defer sandboxes.Close()

	// Wire the assistant core.
	sessions := agent.NewSessionManager(sandboxes, store, cfg)
	assistant := agent.NewService(store, store, store, provider, sessions, cfg)
	devserver := agent.NewDevServer(sessions, store, cfg)

	srv := server.New(store, store, store, assistant, devserver, sandboxes)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(addr); err != nil {
		slog.Error("Server stopped", "error", err)
	}
}
