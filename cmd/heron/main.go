// Heron - Adaptive trust scoring for passwordless login.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/federated"
	"github.com/opensource-finance/heron/internal/login"
	"github.com/opensource-finance/heron/internal/model"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg.Logging)}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model", cfg.Model.Kind,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Federated aggregation persists its registry in the repository
	aggregator := federated.NewAggregator(repo,
		federated.WithMinUpdates(cfg.Federated.MinUpdatesToAggregate),
		federated.WithMaxHistory(cfg.Federated.MaxHistory),
	)

	// Initialize probability model
	probModel, err := model.New(cfg.Model, aggregator)
	if err != nil {
		slog.Error("failed to initialize model", "error", err)
		os.Exit(1)
	}
	var reloaders []worker.Reloader
	if r, ok := probModel.(worker.Reloader); ok {
		if err := r.Reload(ctx); err != nil {
			slog.Warn("failed to load federated weights", "error", err)
		}
		reloaders = append(reloaders, r)
	}
	slog.Info("model initialized",
		"kind", cfg.Model.Kind,
		"version", probModel.Version(),
		"available", probModel.Available(),
	)

	loginSvc := login.NewService(repo, cacheImpl, busImpl, probModel, cfg.Login)

	// Federated worker: leaders aggregate bus updates, every instance reloads
	var submitter worker.Submitter
	if cfg.Federated.Leader {
		submitter = aggregator
	}
	fedWorker := worker.NewWorker(busImpl, submitter, reloaders...)
	if err := fedWorker.Start(); err != nil {
		slog.Error("failed to start federated worker", "error", err)
		os.Exit(1)
	}
	slog.Info("federated worker started", "leader", cfg.Federated.Leader)

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.NewHandler(loginSvc, aggregator, repo, cacheImpl, busImpl, Version))

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := fedWorker.Stop(); err != nil {
		slog.Error("failed to stop federated worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HERON - adaptive trust scoring for passwordless login")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /enroll              - Create a profile from calibration captures")
	fmt.Println("    POST   /login               - Score a login attempt")
	fmt.Println("    POST   /challenge/verify    - Verify a challenged login")
	fmt.Println("    GET    /profiles/{userId}   - Profile and recent decisions")
	fmt.Println("    GET    /decisions/{id}      - Get decision by ID")
	fmt.Println("    GET    /federated/model     - Current federated weights")
	fmt.Println("    POST   /federated/update    - Submit locally trained weights")
	fmt.Println("    GET    /federated/status    - Model registry")
	fmt.Println("    DELETE /federated/pending   - Discard pending updates")
	fmt.Println("    GET    /health              - Health check")
	fmt.Println("    GET    /metrics             - Prometheus metrics")
	fmt.Println()
}
