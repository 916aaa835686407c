package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dangthobach/excel-migration-engine/internal/config"
	"github.com/dangthobach/excel-migration-engine/internal/logging"
	"github.com/dangthobach/excel-migration-engine/internal/migration"
	"github.com/dangthobach/excel-migration-engine/internal/migration/steptracker"
	"github.com/dangthobach/excel-migration-engine/internal/store"
	"github.com/dangthobach/excel-migration-engine/internal/web"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := config.MustLoad()
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		slog.Error("run schema migration", "error", err)
		os.Exit(1)
	}

	tracker := steptracker.New()
	limiter := migration.NewJobLimiter(migration.DefaultMaxConcurrentJobs, migration.DefaultMaxWaitTime)
	orch := &migration.Orchestrator{
		Pool:      pool,
		Ingest:    &migration.IngestService{DB: pool, Cfg: &cfg.Reader},
		Validator: &migration.ValidatorService{DB: pool, Status: pool, Tracker: tracker},
		Applier:   &migration.ApplierService{DB: pool},
		Reconcile: &migration.ReconcilerService{DB: pool},
		Tracker:   tracker,
		Limiter:   limiter,
	}

	server := web.NewServer(cfg, pool, orch, limiter, tracker)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")

		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := limiter.WaitForDrain(drainCtx); err != nil {
			slog.Warn("shutdown: in-flight jobs did not drain in time", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// newPool builds a pgxpool.Pool honoring the configured connection-lifecycle
// bounds.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = dbCfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
