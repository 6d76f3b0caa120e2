package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/cmd/meridian/cli"

	"github.com/meridian-pos/meridian-pos/internal/accounts"
	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/observability"
	"github.com/meridian-pos/meridian-pos/internal/outbox"
	"github.com/meridian-pos/meridian-pos/internal/platform/cache"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/posting"
	"github.com/meridian-pos/meridian-pos/internal/purchasing"
	"github.com/meridian-pos/meridian-pos/internal/settings"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
	"github.com/meridian-pos/meridian-pos/internal/tills"
	"github.com/meridian-pos/meridian-pos/jobs"
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			slog.Default().Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	postingMetrics := observability.NewPostingMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(dbpool)
	idemStore := shared.NewIdempotencyStore(dbpool)

	resolver := accounts.NewResolver(dbpool)
	engine := posting.NewEngine(resolver, logger, postingMetrics)
	voider := posting.NewChainVoider(engine, logger)

	ledgerRepo := ledger.NewRepository(dbpool)
	var balanceCache *ledger.Cache
	if redisClient != nil {
		balanceCache = ledger.NewCache(redisClient, 5*time.Minute)
	}
	ledgerService := ledger.NewService(ledgerRepo, balanceCache, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	outboxStore := outbox.NewStore(dbpool)
	outboxHandler := outbox.NewHandler(logger, outboxStore, jobsClient)

	purchasingRepo := purchasing.NewRepository(dbpool)
	purchasingService := purchasing.NewService(purchasingRepo, engine, voider, auditLogger, ledgerService, idemStore)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService)

	tillsRepo := tills.NewRepository(dbpool)
	tillsService := tills.NewService(tillsRepo, engine)
	tillsHandler := tills.NewHandler(logger, tillsService)

	stockRepo := stock.NewRepository(dbpool)
	stockService := stock.NewService(stockRepo, engine, resolver)
	stockHandler := stock.NewHandler(logger, stockService)

	settingsService := settings.NewService(dbpool)
	settingsHandler := settings.NewHandler(logger, settingsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		PurchasingHandler: purchasingHandler,
		TillsHandler:      tillsHandler,
		StockHandler:      stockHandler,
		SettingsHandler:   settingsHandler,
		LedgerHandler:     ledgerHandler,
		OutboxHandler:     outboxHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobsCommand handles `meridian jobs trigger <task>` and
// `meridian jobs stats` without starting the HTTP server.
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()

	if len(args) == 0 {
		return errors.New("usage: meridian jobs (trigger <task>|stats)")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: meridian jobs trigger <task>")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", args[1], info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
}
