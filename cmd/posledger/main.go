package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/pos-ledger/internal/app"
	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/observability"
	"github.com/odyssey-erp/pos-ledger/internal/platform/cache"
	"github.com/odyssey-erp/pos-ledger/internal/platform/db"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
	"github.com/odyssey-erp/pos-ledger/internal/store/memory"
	"github.com/odyssey-erp/pos-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()
	checks := map[string]app.HealthChecker{}

	deps := app.ServiceDeps{Config: cfg, Logger: logger, Metrics: metrics}
	if cfg.UsesPostgres() {
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		deps.Backend = app.PostgresBackend(pool)
		deps.Audit = shared.NewAuditLogger(pool)
		checks["postgres"] = pool.Ping
	} else {
		logger.Warn("PG_DSN not set, using in-memory store with demo data")
		deps.Backend = app.MemoryBackend(memory.NewSeeded())
	}

	var redisClient *redis.Client
	var jobClient *jobs.Client
	var inspector *asynq.Inspector
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Warn("redis unavailable, idempotency keys disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			deps.Idempotency = shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
			checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

			redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
			jobClient, err = jobs.NewClient(redisOpts)
			if err != nil {
				logger.Warn("job client", slog.Any("error", err))
			} else {
				defer jobClient.Close()
			}
			inspector = asynq.NewInspector(redisOpts)
			defer inspector.Close()
		}
	}

	svcs := app.NewServices(deps)
	var enqueuer jobs.Enqueuer
	if jobClient != nil {
		enqueuer = jobClient
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		StockHandler:   stock.NewHandler(logger, svcs.Stock),
		CreditHandler:  credit.NewHandler(logger, svcs.Credit),
		SalesHandler:   sales.NewHandler(logger, svcs.Sales),
		ReturnsHandler: returns.NewHandler(logger, svcs.Returns),
		JobHandler:     jobs.NewHandler(inspector, enqueuer, logger),
		Metrics:        metrics,
		Checks:         checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Bool("postgres", cfg.UsesPostgres()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
