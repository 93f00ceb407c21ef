// Kestrel - Cross-channel risk scoring that deploys in 60 seconds.
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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/correlate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lexicon"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/textfeat"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load .env if present; real environment wins
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
	if path := os.Getenv("KESTREL_LEXICON"); path != "" {
		cfg.Scoring.LexiconPath = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
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

	// Load lexicon and compile the text feature extractor
	lex := lexicon.Default()
	if cfg.Scoring.LexiconPath != "" {
		lex, err = lexicon.Load(cfg.Scoring.LexiconPath)
		if err != nil {
			slog.Error("failed to load lexicon", "path", cfg.Scoring.LexiconPath, "error", err)
			os.Exit(1)
		}
		slog.Info("lexicon loaded", "path", cfg.Scoring.LexiconPath, "version", lex.Version)
	}
	extractor, err := textfeat.New(lex)
	if err != nil {
		slog.Error("failed to compile text feature extractor", "error", err)
		os.Exit(1)
	}

	// Initialize Model Registry; hydrate from the database, seeding
	// builtin defaults for channels with no stored parameters
	registry := model.NewRegistry(logger)
	if err := registry.Hydrate(ctx, repo); err != nil {
		slog.Error("failed to hydrate model registry", "error", err)
		os.Exit(1)
	}
	slog.Info("model registry initialized")

	// Initialize Policy Engine
	policies, err := policy.NewEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	defer policies.Close()

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl, cfg.Scoring.VelocityWindowSecs)
	slog.Info("velocity service initialized", "window_secs", cfg.Scoring.VelocityWindowSecs)

	// Initialize Correlation Engine
	correlator := correlate.New(cfg.Scoring.ChannelWeights, logger)

	// Initialize Scoring Service
	scorer := scoring.NewService(scoring.Options{
		Extractor:  extractor,
		Registry:   registry,
		Policies:   policies,
		Correlator: correlator,
		Velocity:   velocitySvc,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Config:     cfg.Scoring,
		Logger:     logger,
	})
	slog.Info("scoring service initialized")

	// Load per-tenant policy rules from the database
	tenantIDs := parseTenants(os.Getenv("KESTREL_TENANTS"))
	for _, tenantID := range tenantIDs {
		count, err := scorer.ReloadPolicies(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to load policy rules for tenant",
				"tenant_id", tenantID, "error", err)
			continue
		}
		slog.Info("policy rules loaded", "tenant_id", tenantID, "count", count)
	}

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, scorer, logger)

		workerCfg := worker.Config{
			TenantIDs:     tenantIDs,
			SweepInterval: 5 * time.Minute,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, scorer, registry, policies, extractor, repo, cacheImpl, Version)

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

// parseTenants splits the comma-separated KESTREL_TENANTS value.
func parseTenants(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tenants := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║     Cross-Channel Risk Scoring Engine     ║")
	fmt.Println("  ║      Eyes on every channel.               ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze/text         - Score a text event")
	fmt.Println("    POST /analyze/transaction  - Score a transaction")
	fmt.Println("    POST /correlate            - Fuse per-channel results")
	fmt.Println("    GET  /results/{id}         - Get risk result by ID")
	fmt.Println("    GET  /models               - List active model versions")
	fmt.Println("    POST /models/reload        - Hot-reload models from database")
	fmt.Println("    GET  /policies             - List policy rules")
	fmt.Println("    POST /policies             - Create a policy rule")
	fmt.Println("    POST /policies/reload      - Hot-reload policy rules")
	fmt.Println("    GET  /lexicon              - Inspect the active lexicon")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println("    GET  /metrics              - Prometheus metrics")
	fmt.Println()
}
