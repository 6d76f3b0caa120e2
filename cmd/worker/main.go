package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/observability"
	"github.com/meridian-pos/meridian-pos/internal/outbox"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/jobs"
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

	metrics := observability.NewMetrics()
	postingMetrics := observability.NewPostingMetrics(metrics.Registerer())

	outboxStore := outbox.NewStore(pool)
	idemStore := shared.NewIdempotencyStore(pool)
	transport := outbox.NewHTTPTransport(cfg.SyncPeerURL, cfg.SyncTimeout)
	dispatcher := outbox.NewDispatcher(outboxStore, transport, logger, cfg.SyncBatchSize)

	purgeTask, err := jobs.NewOutboxPurgeTask(jobs.OutboxPurgePayload{
		RetentionHours: int(cfg.OutboxRetention.Hours()),
	})
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}

	dispatchEvery := fmt.Sprintf("@every %s", cfg.DispatchInterval)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOutboxDispatch, Handler: jobs.NewOutboxDispatchHandler(dispatcher, logger, postingMetrics)},
			{Type: jobs.TaskOutboxPurge, Handler: jobs.NewOutboxPurgeHandler(outboxStore, idemStore, logger)},
			{Type: jobs.TaskLedgerIntegrityScan, Handler: jobs.NewLedgerIntegrityScanHandler(pool, logger, postingMetrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: dispatchEvery, Task: jobs.NewOutboxDispatchTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: jobs.NewLedgerIntegrityScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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
