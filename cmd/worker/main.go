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

	"github.com/odyssey-erp/passport/internal/app"
	"github.com/odyssey-erp/passport/internal/auth"
	"github.com/odyssey-erp/passport/internal/observability"
	"github.com/odyssey-erp/passport/internal/platform/cache"
	"github.com/odyssey-erp/passport/internal/platform/db"
	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/shared"
	"github.com/odyssey-erp/passport/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnIdleTime: cfg.PGIdleTime})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	obs := observability.NewMetrics()
	metrics := obs.Jobs()
	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	rbacService := rbac.NewService(
		rbac.NewRepository(pool),
		rbac.NewGraphCache(redisClient, cfg.RBACCacheTTL),
		shared.NewAuditLogger(pool),
		logger,
	)
	tokens := auth.NewTokenStore(redisClient, cfg.TokenPrefix, cfg.TokenTTL)

	reconcileJob := jobs.NewReconcileBaselineJob(rbacService, cfg.RBACExtendedCatalogue, logger, metrics)
	revokeJob := jobs.NewRevokeUserTokensJob(tokens, logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.RBACReconcileCron != "" {
		reconcileTask, err := jobs.NewReconcileBaselineTask(time.Now().UTC(), "cron")
		if err != nil {
			logger.Error("build reconcile task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.RBACReconcileCron,
			Task:    reconcileTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcileBaseline, Handler: reconcileJob.Handle},
			{Type: jobs.TaskRevokeUserTokens, Handler: revokeJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
