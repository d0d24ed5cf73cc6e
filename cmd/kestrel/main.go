// Kestrel - Continuous behavioral authentication for web sessions.
// Copyright (c) 2025 opensource.auth
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

	"github.com/opensource-auth/kestrel/internal/api"
	"github.com/opensource-auth/kestrel/internal/auth"
	"github.com/opensource-auth/kestrel/internal/bus"
	"github.com/opensource-auth/kestrel/internal/cache"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/engine"
	"github.com/opensource-auth/kestrel/internal/policy"
	"github.com/opensource-auth/kestrel/internal/repository"
	"github.com/opensource-auth/kestrel/internal/session"
	"github.com/opensource-auth/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// idleSweepInterval is how often terminated-by-inactivity is enforced.
const idleSweepInterval = time.Minute

func main() {
	// Load configuration first so logging honors it
	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	}
	slog.SetDefault(slog.New(handler))

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if cfg.Auth.JWTSecret == "" {
		slog.Error("KESTREL_JWT_SECRET is required")
		os.Exit(1)
	}

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

	// Initialize Trust Engine and rehydrate persisted baselines
	trustEngine := engine.New(cfg.Engine, engine.NewRegistry(), repo, busImpl)
	if err := trustEngine.Hydrate(ctx); err != nil {
		slog.Error("failed to hydrate baseline models", "error", err)
		os.Exit(1)
	}
	slog.Info("trust engine initialized",
		"trust_threshold", cfg.Engine.TrustThreshold,
		"fail_closed", cfg.Engine.FailClosed,
	)

	// Initialize Policy Engine
	policies, err := policy.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	defer policies.Close()

	// Load guard rules from database (no hardcoded defaults - configure via API)
	if err := loadPoliciesFromDatabase(ctx, repo, policies); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "rules_count", policies.RulesCount())

	// Initialize Notifier
	var notifier session.Notifier = session.LogNotifier{}
	if cfg.Mail.Enabled {
		notifier = session.NewSMTPNotifier(cfg.Mail)
		slog.Info("smtp notifier initialized", "host", cfg.Mail.Host)
	}

	// Initialize Session Orchestrator and idle sweep
	orchestrator := session.NewOrchestrator(repo, busImpl, notifier, cfg.Auth.SessionTimeout)
	go orchestrator.RunIdleSweeper(ctx, idleSweepInterval)
	slog.Info("session orchestrator initialized", "session_timeout", cfg.Auth.SessionTimeout)

	// Initialize async Worker
	asyncWorker := worker.NewWorker(busImpl, repo, trustEngine, policies, orchestrator)
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize OTP issuer
	otp := auth.NewOTPIssuer(cacheImpl, cfg.Auth.OTPExpiry)

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.Auth, repo, cacheImpl, busImpl, trustEngine, policies, asyncWorker, orchestrator, otp, notifier, Version)

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
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadPoliciesFromDatabase loads enabled guard rules into the engine.
// All rules must be configured via POST /api/policies - no hardcoded defaults.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, policies *policy.Engine) error {
	rules, err := repo.ListPolicyRules(ctx, true)
	if err != nil {
		slog.Warn("failed to list policies from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(rules) > 0 {
		slog.Info("loading policies from database", "count", len(rules))
		return policies.LoadRules(rules)
	}

	slog.Info("no policies in database - configure via POST /api/policies")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║      Behavioral Trust Engine              ║")
	fmt.Println("  ║      Sessions that watch themselves.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/auth/signup            - Create an account")
	fmt.Println("    POST /api/auth/verify-signup-otp - Verify the signup code")
	fmt.Println("    POST /api/auth/login             - Begin a login")
	fmt.Println("    POST /api/auth/verify-login-otp  - Finish a login, get a token")
	fmt.Println("    POST /api/auth/logout            - Close the session")
	fmt.Println("    POST /api/behavior/events        - Score a telemetry record")
	fmt.Println("    POST /api/ai/train               - Train the behavioral baseline")
	fmt.Println("    POST /api/ai/predict             - Score without side effects")
	fmt.Println("    GET  /api/user/dashboard         - Sessions, alerts, trust score")
	fmt.Println("    GET  /api/admin/users            - List accounts")
	fmt.Println("    GET  /api/admin/alerts           - List alerts")
	fmt.Println("    GET  /api/policies               - List guard rules")
	fmt.Println("    POST /api/policies               - Create a guard rule")
	fmt.Println("    POST /api/policies/reload        - Hot-reload guard rules")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println()
}
