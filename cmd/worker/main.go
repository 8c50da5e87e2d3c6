package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/frostline-erp/frostline-erp/internal/app"
	"github.com/frostline-erp/frostline-erp/internal/inventory"
	jobmetrics "github.com/frostline-erp/frostline-erp/internal/jobs"
	"github.com/frostline-erp/frostline-erp/internal/platform/db"
	"github.com/frostline-erp/frostline-erp/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	inventoryRepo := inventory.NewRepository(pool)
	housekeeper := inventory.NewHousekeeper(inventoryRepo, cfg.LayerRetentionDays, logger)
	integrityChecker := inventory.NewIntegrityChecker(inventoryRepo, logger)

	metrics := jobmetrics.NewMetrics(nil)
	housekeepingJob := jobs.NewHousekeepingJob(housekeeper, logger, metrics)
	integrityJob := jobs.NewIntegrityJob(integrityChecker, logger, metrics)
	glPostJob := jobs.NewGLPostJob(logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventoryHousekeeping, Handler: housekeepingJob.Handle},
			{Type: jobs.TaskInventoryIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskGLPost, Handler: glPostJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: jobs.NewHousekeepingTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 * * * *", Task: jobs.NewIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
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
