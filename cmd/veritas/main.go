package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/veritas-hq/veritas/internal/app"
	"github.com/veritas-hq/veritas/internal/assignments"
	"github.com/veritas-hq/veritas/internal/audit"
	"github.com/veritas-hq/veritas/internal/observability"
	"github.com/veritas-hq/veritas/internal/platform/cache"
	"github.com/veritas-hq/veritas/internal/platform/db"
	"github.com/veritas-hq/veritas/internal/rbac"
	"github.com/veritas-hq/veritas/internal/roles"
	"github.com/veritas-hq/veritas/jobs"
	"github.com/veritas-hq/veritas/report"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
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

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, metrics)

	snapshotCache := rbac.NewSnapshotCache(redisClient, cfg.GrantCacheTTL)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, auditService, snapshotCache, logger)

	assignmentsRepo := assignments.NewRepository(pool)
	assignmentsService := assignments.NewService(assignmentsRepo, rolesService, auditService, snapshotCache, logger)

	resolver := rbac.NewService(rolesService, assignmentsService, auditService, snapshotCache, logger)
	guard := rbac.Middleware{Service: resolver, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RolesHandler:       roles.NewHandler(logger, rolesService, guard),
		AssignmentsHandler: assignments.NewHandler(logger, assignmentsService, guard),
		AccessHandler:      rbac.NewHandler(logger, resolver, guard),
		AuditHandler:       audit.NewHandler(logger, auditService, guard),
		ReportHandler:      report.NewHandler(report.NewClient(cfg.GotenbergURL), auditService, logger, guard),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Pool:               pool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
