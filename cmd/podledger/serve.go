package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/podledger/internal/cache"
	"github.com/kursadbilgin/podledger/internal/config"
	"github.com/kursadbilgin/podledger/internal/growth"
	"github.com/kursadbilgin/podledger/internal/handler"
	"github.com/kursadbilgin/podledger/internal/indexer"
	"github.com/kursadbilgin/podledger/internal/infra/postgresql"
	"github.com/kursadbilgin/podledger/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/podledger/internal/infra/redis"
	"github.com/kursadbilgin/podledger/internal/infra/sqlite"
	"github.com/kursadbilgin/podledger/internal/ledger"
	"github.com/kursadbilgin/podledger/internal/notify"
	"github.com/kursadbilgin/podledger/internal/observability"
	"github.com/kursadbilgin/podledger/internal/queue"
	"github.com/kursadbilgin/podledger/internal/reconcile"
	"github.com/kursadbilgin/podledger/internal/repository"
	"github.com/kursadbilgin/podledger/internal/service"
	"github.com/kursadbilgin/podledger/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the reconciliation engine and the due-notification dispatcher",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()
	checks := []handler.ReadinessCheck{
		handler.SQLCheck("postgres", sqlDB),
		handler.RedisCheck(rdb),
	}

	kv, closeKV, err := openCacheKV(cfg, rdb)
	if err != nil {
		return err
	}
	defer closeKV()
	if pinger, ok := kv.(interface{ Ping(context.Context) error }); ok && cfg.CacheBackend == config.CacheBackendSQLite {
		checks = append(checks, handler.ReadinessCheck{Name: "cache", Ping: pinger.Ping})
	}

	store, err := cache.New(kv, cfg.PendingTimeout, logger.Named("cache"))
	if err != nil {
		return err
	}

	limiter, err := infraredis.NewRateLimiter(rdb, cfg.IndexerRateLimitPerSec)
	if err != nil {
		return err
	}
	indexerClient, err := indexer.NewClient(cfg.IndexerURL, limiter)
	if err != nil {
		return err
	}
	fetcher, err := indexer.NewFetcher(indexerClient, cfg.ExplorerURL, logger.Named("indexer"))
	if err != nil {
		return err
	}

	catalog, err := growth.Default()
	if err != nil {
		return err
	}
	notifications := repository.NewGormNotificationRepo(db)
	scheduler, err := notify.NewScheduler(notifications, catalog, logger.Named("notify"))
	if err != nil {
		return err
	}

	engine, err := reconcile.NewEngine(fetcher, store, scheduler, reconcile.Options{
		PollInterval:   cfg.PollInterval,
		MaxPollTicks:   cfg.PollMaxTicks,
		PendingTimeout: cfg.PendingTimeout,
	}, metrics, logger.Named("reconcile"))
	if err != nil {
		return err
	}
	defer engine.Close()

	algod, err := ledger.NewAlgodClient(cfg.AlgodURL, cfg.AlgodToken)
	if err != nil {
		return err
	}
	signer, err := ledger.NewHTTPSigner(cfg.SignerURL)
	if err != nil {
		return err
	}
	minter, err := service.NewMintService(engine, algod, signer, ledger.DefaultConfirmationRounds, metrics, logger.Named("mint"))
	if err != nil {
		return err
	}
	journal, err := service.NewJournalService(repository.NewGormJournalRepo(db), logger.Named("journal"))
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "podledger",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger.Named("http")),
	})
	app.Use(recover.New())
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterSessionRoutes(app, engine); err != nil {
		return err
	}
	if err := handler.RegisterThrowRoutes(app, engine, minter, catalog); err != nil {
		return err
	}
	if err := handler.RegisterJournalRoutes(app, engine, minter, journal); err != nil {
		return err
	}
	if err := handler.RegisterNotificationRoutes(app, scheduler); err != nil {
		return err
	}

	var (
		dispatcher *notify.Dispatcher
		worker     *service.WorkerService
	)
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer mq.Close()
		checks = append(checks, handler.ReadinessCheck{Name: "rabbitmq", Ping: mq.Ping})

		deduper, err := infraredis.NewDeduper(rdb, 0)
		if err != nil {
			return err
		}
		dispatcher, err = notify.NewDispatcher(notifications, queue.NewRabbitMQPublisher(mq), deduper,
			cfg.DueScanInterval, 0, metrics, logger.Named("dispatcher"))
		if err != nil {
			return err
		}

		if cfg.NotifyWebhookURL != "" {
			hook, err := notify.NewWebhook(cfg.NotifyWebhookURL)
			if err != nil {
				return err
			}
			consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger.Named("consumer"))
			worker, err = service.NewWorkerService(consumer, hook, limiter, cfg.WorkerConcurrency, metrics, logger.Named("worker"))
			if err != nil {
				return err
			}
		}
	} else {
		logger.Info("RABBITMQ_URL not set, due notifications are only served over HTTP")
	}

	handler.RegisterHealthRoutes(app, checks...)

	if cfg.Address != "" {
		engine.SetAddress(ctx, cfg.Address)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("podledger api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	if dispatcher != nil {
		g.Go(func() error {
			return dispatcher.Start(gctx)
		})
	}
	if worker != nil {
		g.Go(func() error {
			return worker.Start(gctx)
		})
	}

	return g.Wait()
}

// openCacheKV picks the durable store behind the per-address cache.
func openCacheKV(cfg *config.Config, rdb *goredis.Client) (cache.KV, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendSQLite:
		kv, err := sqlite.Open(cfg.CacheSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { _ = kv.Close() }, nil
	default:
		kv, err := infraredis.NewKV(rdb)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil
	}
}
