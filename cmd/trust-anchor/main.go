// Trust-anchor entry point - main is just wiring, logic is in packages.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/api/handlers"
	"github.com/talatops/zk-snark-voting/internal/api/router"
	"github.com/talatops/zk-snark-voting/internal/common/config"
	"github.com/talatops/zk-snark-voting/internal/common/health"
	"github.com/talatops/zk-snark-voting/internal/events"
	"github.com/talatops/zk-snark-voting/internal/protocol"
	"github.com/talatops/zk-snark-voting/internal/receipts"
	"github.com/talatops/zk-snark-voting/internal/session"
	"github.com/talatops/zk-snark-voting/internal/storage/memory"
	"github.com/talatops/zk-snark-voting/internal/storage/postgres"
	"github.com/talatops/zk-snark-voting/internal/zk"
)

// Version info (set via ldflags during build)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// ========================================================================
	// Step 1: Parse CLI Flags
	// ========================================================================

	configPath := flag.String("config", "configs/trust-anchor.yaml", "Path to config file")
	flag.Parse()

	// ========================================================================
	// Step 2: Load Configuration
	// ========================================================================

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// ========================================================================
	// Step 3: Initialize Logger
	// ========================================================================

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting voting trust anchor",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.String("config", *configPath),
	)

	// ========================================================================
	// Step 4: Circuit Keys
	// ========================================================================

	keys, err := zk.NewKeyManager(cfg.ZK.Curve, logger)
	if err != nil {
		logger.Fatal("Failed to initialize key manager", zap.Error(err))
	}

	if err := keys.LoadFromDir(cfg.ZK.KeyDir); err != nil {
		if !cfg.ZK.SetupOnStart {
			logger.Fatal("Failed to load circuit keys", zap.Error(err))
		}

		logger.Warn("No circuit keys found, running setup",
			zap.String("key_dir", cfg.ZK.KeyDir),
			zap.Error(err),
		)
		if err := keys.SetupAll(); err != nil {
			logger.Fatal("Circuit setup failed", zap.Error(err))
		}
		if err := keys.SaveToDir(cfg.ZK.KeyDir); err != nil {
			logger.Fatal("Failed to persist circuit keys", zap.Error(err))
		}
	}

	verifier := zk.NewVerifier(keys, logger)

	// ========================================================================
	// Step 5: Stores
	// ========================================================================

	checker := health.NewChecker(logger)

	var identities protocol.IdentityStore
	var ledger protocol.NullifierLedger
	var actions protocol.ActionStore

	if cfg.Database.Enabled {
		pg, err := postgres.Connect(cfg.Database.DSN, &postgres.Config{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer pg.Close()

		identities, ledger, actions = pg, pg, pg
		checker.RegisterCritical("database", pg)
		logger.Info("Using PostgreSQL storage")
	} else {
		mem := memory.NewStore()
		identities, ledger, actions = mem, mem, mem
		logger.Warn("Using in-memory storage; state is lost on restart")
	}

	// ========================================================================
	// Step 6: Sessions, Audit Bus, Receipts
	// ========================================================================

	var sessions protocol.SessionStore
	switch cfg.Sessions.Backend {
	case "redis":
		rs, err := session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.RedisAddress(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect session store", zap.Error(err))
		}
		defer rs.Close()
		sessions = rs
		checker.RegisterCritical("sessions", rs)
	default:
		ms := session.NewMemoryStore()
		defer ms.Close()
		sessions = ms
	}

	bus := events.NewBus(events.Config{
		Addr:     cfg.RedisAddress(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Enabled:  cfg.Redis.Enabled,
	}, logger)
	defer bus.Close()
	if bus.IsEnabled() {
		checker.RegisterOptional("event_bus", bus)
	}

	var receiptLedger protocol.ReceiptLedger
	if cfg.Receipts.Enabled {
		receiptLedger = receipts.NewHTTPLedger(cfg.Receipts.URL, cfg.Receipts.Timeout, logger)
	} else {
		receiptLedger = receipts.NewDisabledLedger(logger)
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := checker.WaitForHealthy(startupCtx, time.Minute); err != nil {
		startupCancel()
		logger.Fatal("Dependencies did not become healthy", zap.Error(err))
	}
	startupCancel()

	// ========================================================================
	// Step 7: Orchestrator and Handlers
	// ========================================================================

	orch := protocol.New(protocol.Options{
		Verifier:    verifier,
		Identities:  identities,
		Ledger:      ledger,
		Actions:     actions,
		Receipts:    receiptLedger,
		Sessions:    sessions,
		Bus:         bus,
		AdminProofs: cfg.Admin.KeyCommitments,
		SessionTTL:  cfg.Sessions.TTL,
		Logger:      logger,
	})

	protocolHandler := handlers.NewProtocolHandler(orch, logger)
	healthHandler := handlers.NewHealthHandler(checker, logger)

	// ========================================================================
	// Step 8: HTTP Server
	// ========================================================================

	r := router.SetupRouter(cfg, protocolHandler, healthHandler, logger)

	srv := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("address", cfg.ServerAddress()),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Trust anchor started",
		zap.String("address", cfg.ServerAddress()),
		zap.String("environment", getEnvironment(cfg)),
	)

	// ========================================================================
	// Step 9: Graceful Shutdown
	// ========================================================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Shutting down server gracefully...")

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// ============================================================================
// Helper Functions
// ============================================================================

// initLogger creates a configured zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Level == "debug" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	var level zap.AtomicLevel
	switch cfg.Level {
	case "debug":
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapConfig.Level = level

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	return zapConfig.Build()
}

// getEnvironment returns environment name based on config
func getEnvironment(cfg *config.Config) string {
	if cfg.IsProduction() {
		return "production"
	}
	return "development"
}
