// Heron - Commission pricing for logistics marketplaces.
// Copyright (c) 2025 opensource.logistics
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

	"github.com/opensource-logistics/heron/internal/api"
	"github.com/opensource-logistics/heron/internal/bus"
	"github.com/opensource-logistics/heron/internal/cache"
	"github.com/opensource-logistics/heron/internal/domain"
	"github.com/opensource-logistics/heron/internal/engine"
	"github.com/opensource-logistics/heron/internal/report"
	"github.com/opensource-logistics/heron/internal/repository"
	"github.com/opensource-logistics/heron/internal/usage"
	"github.com/opensource-logistics/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HERON_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HERON_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if mode := os.Getenv("HERON_ROUNDING"); mode != "" {
		cfg.Calculation.Rounding = domain.RoundingMode(mode)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rounding", cfg.Calculation.Rounding,
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

	// Initialize rule store
	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize rule store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("rule store initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize condition evaluator
	conditions, err := engine.NewConditionEvaluator()
	if err != nil {
		slog.Error("failed to initialize condition evaluator", "error", err)
		os.Exit(1)
	}

	// Initialize resolution and calculation engines
	resolver := engine.NewResolver(store, cacheImpl, conditions, cfg.Cache.CandidateTTL)
	calculator := engine.NewCalculator(cfg.Calculation)
	slog.Info("engines initialized",
		"rounding", cfg.Calculation.Rounding,
		"rate_scale", cfg.Calculation.RateScale,
	)

	// Initialize reporting and usage tracking
	reporter := report.NewReporter(store)
	usageSvc := usage.NewService(store, cacheImpl, time.Hour)

	// Initialize the audit worker: it persists commission records from the
	// calculated event stream and invalidates candidate caches on rule
	// lifecycle events.
	auditWorker := worker.NewWorker(busImpl, store, cacheImpl)
	if err := auditWorker.Start(); err != nil {
		slog.Error("failed to start audit worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, cacheImpl, busImpl, resolver, calculator, conditions, reporter, usageSvc, Version)

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

	// Stop the audit worker first
	if err := auditWorker.Stop(); err != nil {
		slog.Error("failed to stop audit worker", "error", err)
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
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 HERON                     ║")
	fmt.Println("  ║      Commission Pricing Engine            ║")
	fmt.Println("  ║    One rule for every transaction.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST  /commissions/calculate  - Price a transaction")
	fmt.Println("    GET   /rules                  - List all rules")
	fmt.Println("    POST  /rules                  - Create a new rule")
	fmt.Println("    GET   /rules/{id}             - Get rule by ID")
	fmt.Println("    PATCH /rules/{id}             - Update rule fields")
	fmt.Println("    POST  /rules/{id}/deactivate  - Deactivate a rule")
	fmt.Println("    GET   /reports/rules          - Rule catalog summary")
	fmt.Println("    GET   /reports/commissions    - Commission summary")
	fmt.Println("    GET   /health                 - Health check")
	fmt.Println()
}
