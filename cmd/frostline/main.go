package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/frostline-erp/frostline-erp/internal/app"
	"github.com/frostline-erp/frostline-erp/internal/integration"
	"github.com/frostline-erp/frostline-erp/internal/inventory"
	"github.com/frostline-erp/frostline-erp/internal/masterdata"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/customers"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/items"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/warehouses"
	"github.com/frostline-erp/frostline-erp/internal/observability"
	"github.com/frostline-erp/frostline-erp/internal/platform/cache"
	"github.com/frostline-erp/frostline-erp/internal/platform/db"
	"github.com/frostline-erp/frostline-erp/internal/shared"
	"github.com/frostline-erp/frostline-erp/jobs"
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
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	periodResolver := shared.NewPeriodResolver(pool)

	itemService := items.NewService(items.NewRepository(pool))
	customerService := customers.NewService(customers.NewRepository(pool))
	warehouseService := warehouses.NewService(warehouses.NewRepository(pool))
	masterDataHandler := masterdata.NewHandler(logger, itemService, customerService, warehouseService)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	integrationHooks := integration.NewHooks(jobsClient, logger)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(
		inventoryRepo,
		integration.NewItemLookup(itemService),
		integration.NewCustomerLookup(customerService),
		periodResolver,
		auditLogger,
		idempotencyStore,
		inventory.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock},
		integrationHooks,
		logger,
	)
	if redisClient != nil {
		inventoryService.AttachBalanceCache(inventory.NewBalanceCache(redisClient, cfg.CacheTTL))
	}
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()
	inventoryService.AttachMovementMetrics(metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventoryHandler,
		MasterDataHandler: masterDataHandler,
		JobHandler:        jobHandler,
		Pool:              pool,
		Metrics:           metrics,
	})

	if err := app.Serve(ctx, cfg, router, logger); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
