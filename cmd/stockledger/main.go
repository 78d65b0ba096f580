package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/auth"
	"github.com/odyssey-erp/stockledger/internal/masterdata"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/platform/events"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stock"
	"github.com/odyssey-erp/stockledger/jobs"
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

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "verify":
		os.Exit(runVerify(ctx, cfg, logger, args))
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		err = fmt.Errorf("unknown command %q (serve, verify, jobs)", command)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func newStockService(cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) (*stock.Service, func()) {
	repo := stock.NewRepository(pool, stock.RepositoryConfig{
		MaxRetries: cfg.StockTxMaxRetries,
		OnRetry: func(err error) {
			metrics.RecordTxRetry(err)
			logger.Warn("retrying stock transaction", slog.Any("error", err))
		},
	})

	deps := stock.Dependencies{
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Lookup:      masterdata.NewLookup(masterdata.NewRepository(pool)),
		Metrics:     metrics,
		Logger:      logger,
	}
	if redisClient != nil {
		deps.Cache = stock.NewBalanceCache(redisClient, cfg.StockCacheTTL)
	}

	closers := []func(){}
	if cfg.KafkaEnabled() {
		publisher, err := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Warn("kafka disabled", slog.Any("error", err))
		} else {
			deps.Events = stock.NewEventPublisher(publisher)
			closers = append(closers, func() {
				if err := publisher.Close(); err != nil {
					logger.Warn("kafka close", slog.Any("error", err))
				}
			})
		}
	}
	if cfg.StockLowStockAlerts {
		client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		deps.Alerts = jobs.NewAlertEnqueuer(client)
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		})
	}

	svc := stock.NewService(repo, deps, stock.ServiceConfig{
		LowStockAlerts: cfg.StockLowStockAlerts,
		HistoryLimit:   cfg.StockHistoryLimit,
	})
	return svc, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
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

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	svc, closeDeps := newStockService(cfg, logger, pool, redisClient, metrics)
	defer closeDeps()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Tokens:       tokens,
		StockHandler: stock.NewHandler(logger, svc, cfg.StockMutationsPerMin),
		JobHandler:   jobs.NewHandler(inspector, logger),
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	return nil
}

func runVerify(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	itemID := fs.Int64("item", 0, "verify a single item id")
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	repo := stock.NewRepository(pool, stock.RepositoryConfig{MaxRetries: cfg.StockTxMaxRetries})
	svc := stock.NewService(repo, stock.Dependencies{Logger: logger}, stock.ServiceConfig{})
	ledger, err := cli.NewLedgerCLI(svc)
	if err != nil {
		logger.Error("ledger cli", slog.Any("error", err))
		return 1
	}
	return ledger.VerifyCommand(ctx, cli.VerifyOptions{ItemID: *itemID, JSONOutput: *jsonOut})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	trigger := fs.String("trigger", "", "enqueue a job by task type")
	itemID := fs.Int64("item", 0, "item id for "+jobs.TaskLedgerIntegrity)
	retention := fs.Duration("retention", cfg.IdempotencyRetention, "retention for "+jobs.TaskIdempotencyCleanup)
	if err := fs.Parse(args); err != nil {
		return err
	}

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	if *trigger != "" {
		info, err := jobsCLI.Trigger(ctx, *trigger, *itemID, *retention)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	}
	stats, err := jobsCLI.InspectQueue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return nil
}
