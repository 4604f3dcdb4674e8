// Kestrel - Behavioral fraud scoring that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/monitor"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/store"
	"github.com/opensource-finance/kestrel/internal/worker"
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
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize model store
	modelStore, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize model store", "error", err)
		os.Exit(1)
	}
	defer modelStore.Close()
	slog.Info("model store initialized", "driver", cfg.Store.Driver)

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

	// Initialize Rule Engine
	ruleEngine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer ruleEngine.Close()

	// Load custom rules from file when configured; builtin heuristics always run
	if err := loadRulesFromFile(ruleEngine); err != nil {
		slog.Error("failed to load custom rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "custom_rules", ruleEngine.RulesCount())

	// Initialize Monitor
	mon := monitor.New(logger, busImpl)
	slog.Info("monitor initialized")

	// Initialize Scoring Engine
	scoringEngine := engine.New(cfg.Engine, logger, modelStore, cacheImpl, busImpl, ruleEngine, mon)
	slog.Info("scoring engine initialized",
		"min_training_transactions", cfg.Engine.MinTrainingTransactions,
		"anomaly_trees", cfg.Engine.AnomalyTrees,
		"ensemble", cfg.Engine.TrainEnsemble,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, scoringEngine)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, scoringEngine, modelStore, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesFromFile loads custom CEL rules from the JSON file named by
// KESTREL_RULES. Rules can also be managed at runtime via POST /rules.
func loadRulesFromFile(engine *rules.Engine) error {
	path := os.Getenv("KESTREL_RULES")
	if path == "" {
		slog.Info("no custom rules file configured - add rules via POST /rules")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file %s: %w", path, err)
	}

	var configs []*domain.RuleConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if err := engine.LoadRules(configs); err != nil {
		return fmt.Errorf("load rules from %s: %w", path, err)
	}

	slog.Info("custom rules loaded from file", "path", path, "count", len(configs))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║      Behavioral Fraud Scoring Engine      ║")
	fmt.Println("  ║      Every transaction, explained.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /train                  - Train a user model from history")
	fmt.Println("    POST /detect                 - Score a transaction synchronously")
	fmt.Println("    POST /transactions           - Enqueue a transaction for async scoring")
	fmt.Println("    GET  /users                  - List trained users")
	fmt.Println("    GET  /users/{id}/profile     - Get a user's behavioral profile")
	fmt.Println("    DELETE /users/{id}           - Delete a user's models")
	fmt.Println("    GET  /rules                  - List custom rules")
	fmt.Println("    POST /rules                  - Create a custom rule")
	fmt.Println("    POST /rules/reload           - Replace the custom rule set")
	fmt.Println("    GET  /monitoring/metrics     - Scoring metrics")
	fmt.Println("    GET  /monitoring/health      - Graded system health")
	fmt.Println("    GET  /monitoring/dashboard   - Combined operations view")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
