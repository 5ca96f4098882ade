// Package main is the entry point of the guest session API.
//
// The server keeps anonymous guest activity (answers, bookmarks, viewed
// papers) in a snapshot store, decides when to ask a guest to sign in, and
// imports a guest's activity into their account once they do.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/paperhub/guest-hub/config"
	"github.com/paperhub/guest-hub/internal/application/session"
	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/infrastructure/metrics"
	"github.com/paperhub/guest-hub/internal/infrastructure/persistence/postgres"
	httpapi "github.com/paperhub/guest-hub/internal/interface/http"
	"github.com/paperhub/guest-hub/internal/interface/http/handlers"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
		Format:    cfg.Observability.LogFormat,
	})
	defer func() { _ = log.Sync() }()

	log.Info("starting guest hub",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.StoreBackend(string(cfg.Guest.Store)),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observer, err := metrics.NewObserver(promReg, log)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SNAPSHOT STORE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStore(cfg, log, observer)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing snapshot store...")
		if err := store.Close(); err != nil {
			log.Warn("closing snapshot store", logger.Err(err))
		}
	}()
	health.AddCheck("snapshot_store", handlers.NewPingCheck(store))

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ACCOUNT DATABASE (optional, migration only)
	// ─────────────────────────────────────────────────────────────────────────
	var importer guest.AccountImporter
	if cfg.Database.URL != "" {
		conn, err := connectAccounts(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection...")
			conn.Close()
		}()

		importer = postgres.NewAccountRepository(conn, observer.BreakerStateChanged)
		health.AddOptionalCheck("account_db", handlers.NewPingCheck(conn))
	} else {
		log.Warn("DATABASE_URL not set, account migration disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GUEST SESSIONS
	// ─────────────────────────────────────────────────────────────────────────
	registry := session.NewRegistry(store, session.Config{
		Namespace:         cfg.Guest.Namespace,
		FreeQuestionLimit: cfg.Guest.FreeQuestionLimit,
		RearmAfter:        cfg.Guest.RearmAfter,
		Size:              cfg.Guest.RegistrySize,
		AsyncPersist:      cfg.Guest.AsyncPersist,
		PersistTimeout:    cfg.Guest.PersistTimeout,
	},
		session.WithObserver(observer),
		session.WithLifecycle(observer),
		session.WithLogger(log),
	)
	// Registered after the store so it runs first and flushes pending saves.
	defer func() {
		log.Info("closing guest registry...")
		_ = registry.Close()
	}()
	health.AddCheck("registry", handlers.NewPingCheck(registry))

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpapi.GuestDependencies(registry, importer, observer, log)
	deps.HealthChecker = health
	deps.Metrics = promReg

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Host = cfg.HTTP.Host
	srvCfg.Port = cfg.HTTP.Port
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	srvCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	srvCfg.RateLimitPerMinute = cfg.HTTP.RateLimit
	srvCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	srvCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	if cfg.HTTP.APIKey != "" {
		srvCfg.APIKeys = []string{cfg.HTTP.APIKey}
	}

	server, err := httpapi.NewServer(srvCfg, deps)
	if err != nil {
		return err
	}
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("http shutdown", logger.Err(err))
	}

	log.Info("shutdown completed")
	return nil
}
