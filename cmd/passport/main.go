package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/passport/internal/app"
	"github.com/odyssey-erp/passport/internal/audit"
	audithttp "github.com/odyssey-erp/passport/internal/audit/http"
	"github.com/odyssey-erp/passport/internal/auth"
	"github.com/odyssey-erp/passport/internal/observability"
	"github.com/odyssey-erp/passport/internal/platform/cache"
	"github.com/odyssey-erp/passport/internal/platform/db"
	"github.com/odyssey-erp/passport/internal/rbac"
	"github.com/odyssey-erp/passport/internal/roles"
	"github.com/odyssey-erp/passport/internal/shared"
	"github.com/odyssey-erp/passport/internal/users"
	"github.com/odyssey-erp/passport/jobs"
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

	if args := os.Args[1:]; len(args) > 0 {
		code := 2
		if isCommand(args[0]) {
			code = runCommand(ctx, cfg, logger, args, os.Stdout, os.Stderr)
		} else {
			fmt.Fprint(os.Stderr, usage)
		}
		stop()
		os.Exit(code)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnIdleTime: cfg.PGIdleTime})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, rbac.NewGraphCache(redisClient, cfg.RBACCacheTTL), auditLogger, logger)
	rbacMiddleware := rbac.Middleware{Graphs: rbacService, Logger: logger, Recorder: metrics}

	if cfg.RBACSeedOnBoot {
		if _, err := rbacService.EnsureBaseline(ctx, rbac.DefaultCatalogue(cfg.RBACExtendedCatalogue)); err != nil {
			logger.Error("seed rbac baseline", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	tokens := auth.NewTokenStore(redisClient, cfg.TokenPrefix, cfg.TokenTTL)
	authService := auth.NewService(auth.NewRepository(dbpool), rbacService, tokens, logger)
	authHandler := auth.NewHandler(logger, authService, tokens, app.CredentialRateLimit(cfg))

	usersService := users.NewService(users.NewRepository(dbpool), rbacService, jobsClient, logger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	rolesHandler := roles.NewHandler(logger, rbacService, rbacMiddleware)
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware)

	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticate:       tokens.Authenticate,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		RolesHandler:       rolesHandler,
		UsersHandler:       usersHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobs.NewHandler(inspector, logger),
		AuditHandler:       auditHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
