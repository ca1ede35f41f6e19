package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/veritas-hq/veritas/internal/app"
	"github.com/veritas-hq/veritas/internal/assignments"
	"github.com/veritas-hq/veritas/internal/audit"
	jobmetrics "github.com/veritas-hq/veritas/internal/jobs"
	"github.com/veritas-hq/veritas/internal/platform/cache"
	"github.com/veritas-hq/veritas/internal/platform/db"
	"github.com/veritas-hq/veritas/internal/rbac"
	"github.com/veritas-hq/veritas/internal/roles"
	"github.com/veritas-hq/veritas/jobs"
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

	metrics := jobmetrics.NewMetrics(nil)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, nil)

	snapshotCache := rbac.NewSnapshotCache(redisClient, cfg.GrantCacheTTL)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, auditService, snapshotCache, logger)

	assignmentsRepo := assignments.NewRepository(pool)
	assignmentsService := assignments.NewService(assignmentsRepo, rolesService, auditService, snapshotCache, logger)

	riskScanJob := jobs.NewRiskScanJob(auditService, logger, metrics)
	sweepJob := jobs.NewExpirySweepJob(assignmentsService, logger, metrics)

	windowHours := int(cfg.RiskScanWindow.Hours())
	if windowHours < 1 {
		windowHours = 1
	}
	riskScanTask, err := jobs.NewRiskScanTask(windowHours)
	if err != nil {
		logger.Error("build risk scan task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewExpirySweepTask(cfg.SweepBatchSize)
	if err != nil {
		logger.Error("build expiry sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditRiskScan, Handler: riskScanJob.Handle},
			{Type: jobs.TaskAssignmentExpirySweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: riskScanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/10 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
