// Kestrel - Card recommendations that stay up when the scorer goes down.
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/cooldown"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/preference"
	"github.com/opensource-finance/kestrel/internal/ranking"
	"github.com/opensource-finance/kestrel/internal/recommend"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/resilience"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Optional .env file for local development
	_ = godotenv.Load()

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

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scoring_url", cfg.Scoring.BaseURL,
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
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Scoring Client
	client := scoring.NewClient(cfg.Scoring)
	slog.Info("scoring client initialized", "base_url", cfg.Scoring.BaseURL)

	// Initialize Resilience Manager. All four scoring services share one
	// provider process, so a single health probe backs every entry.
	probe := func(ctx context.Context) error {
		_, err := client.Health(ctx)
		return err
	}
	manager := resilience.NewManager(cfg.Resilience, map[string]resilience.Probe{
		domain.ServiceTriggerClassify:   probe,
		domain.ServiceRewardEstimation:  probe,
		domain.ServicePortfolioOptimize: probe,
		domain.ServiceRanking:           probe,
	}, prometheus.DefaultRegisterer)
	manager.Start(ctx)
	slog.Info("resilience manager started", "interval", cfg.Resilience.HealthInterval)

	// Initialize Eligibility Engine
	engine, err := eligibility.NewEngine()
	if err != nil {
		slog.Error("failed to initialize eligibility engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load eligibility rules", "error", err)
		os.Exit(1)
	}
	slog.Info("eligibility engine initialized", "rules_count", engine.RulesCount())

	// Initialize Cooldown Tracker
	tracker := cooldown.NewTracker(cacheImpl, cooldown.DefaultWindow)
	slog.Info("cooldown tracker initialized", "window", tracker.Window())

	// Initialize Audit Logger
	auditLog := audit.NewLogger(busImpl, repo)

	// Initialize Orchestrator
	orch := recommend.New(recommend.Deps{
		Store:       repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Client:      client,
		Manager:     manager,
		Preferences: preference.NewEngine(),
		Categorizer: ranking.NewCategorizer(),
		Eligibility: engine,
		Cooldown:    tracker,
		Audit:       auditLog,
	})
	slog.Info("recommendation orchestrator initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, orch, repo, cacheImpl, busImpl, manager, engine, asyncWorker, Version)

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

// applyEnvOverrides layers individual environment variables over the
// tier defaults so a single setting can be changed without a tier swap.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_SCORING_URL"); v != "" {
		cfg.Scoring.BaseURL = v
	}
	if v := os.Getenv("KESTREL_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

// loadRulesFromDatabase loads eligibility rules from the database into
// the engine. All rules must be configured via POST /rules - no
// hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Store, engine *eligibility.Engine) error {
	dbRules, err := repo.ListEligibilityRules(ctx)
	if err != nil {
		slog.Warn("failed to list eligibility rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading eligibility rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no eligibility rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║    Card Recommendation Orchestrator       ║")
	fmt.Println("  ║     The right card, even when the         ║")
	fmt.Println("  ║         scorer is having a day.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Scoring:  %s\n", cfg.Scoring.BaseURL)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /recommendations           - Generate recommendations")
	fmt.Println("    POST /recommendations/batch     - Generate for multiple requests")
	fmt.Println("    POST /recommendations/realtime  - Low-latency event-driven items")
	fmt.Println("    GET  /recommendations/{id}      - Get a stored result by ID")
	fmt.Println("    GET  /users/{id}/recommendations - List a user's results")
	fmt.Println("    POST /feedback                  - Record user feedback")
	fmt.Println("    GET  /cards                     - List the card catalog")
	fmt.Println("    POST /cards                     - Add a card to the catalog")
	fmt.Println("    GET  /rules                     - List eligibility rules")
	fmt.Println("    POST /rules                     - Create an eligibility rule")
	fmt.Println("    POST /rules/reload              - Hot-reload rules from database")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println("    GET  /status                    - Health + metrics snapshot")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}
