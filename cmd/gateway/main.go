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

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/events"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/lock"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/persistence/postgres"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/terminal"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest/handlers"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	if err := terminal.AssertBuildAllowed(cfg.Primary.Env); err != nil {
		logger.Error("refusing to start", "error", err)
		os.Exit(1)
	}

	logger.Info("starting payment core",
		"env", cfg.Primary.Env,
		"port", cfg.Server.Port,
		"log_level", cfg.Logger.Level,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("payment core stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("payment core exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store := postgres.NewStore(db)

	var (
		locker    application.OrderLocker
		publisher application.EventPublisher
	)
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(cfg.Redis.RedisOptions())
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTLOrDefault(), logger)
		publisher = events.NewRedisPublisher(rdb, cfg.Redis.ChannelOrDefault())
		logger.Info("using redis for order locks and events", "address", cfg.Redis.Address)
	} else {
		locker = lock.NewLocalLocker()
		publisher = events.NewLogPublisher(logger)
		logger.Warn("redis not configured, order locks are process-local")
	}

	terminalClient, err := terminal.New(cfg.Terminal, cfg.Retry, cfg.Primary.Env, m, logger)
	if err != nil {
		return err
	}

	policy := domain.NewTenderPolicy(cfg.Ledger.MaxTenderRatio, cfg.Ledger.RoundingToleranceCents)
	ledger := services.NewIdempotencyLedger(store, cfg.Ledger.IdempotencyLease, cfg.Ledger.WaitTimeout)
	reconciler := services.NewReconciler(store, locker, policy, m, logger)
	reverser := services.NewReverser(store, terminalClient, locker, services.ReverserConfig{
		BaseBackoff:  cfg.Retry.BaseDelay,
		MaxBackoff:   cfg.Retry.MaxDelay,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		SettleWindow: 2 * cfg.Terminal.EMVTimeout,
	}, m, logger)

	intentService := services.NewIntentService(store, terminalClient, ledger, reconciler, reverser, policy, services.IntentConfig{
		RetryBaseDelay: cfg.Retry.BaseDelay,
		RetryMaxDelay:  cfg.Retry.MaxDelay,
		MaxAttempts:    cfg.Worker.MaxAttempts,
	}, m, logger)
	paymentService := services.NewPaymentService(store, ledger, reconciler, reverser, m, logger)
	syncService := services.NewSyncService(store, ledger, reconciler, m, logger)
	adminService := services.NewTerminalAdminService(terminalClient, logger)

	h := handlers.NewHandlers(intentService, paymentService, syncService, adminService, logger)
	router, err := handlers.NewRouter(ctx, h, handlers.RouterConfig{
		RequestTimeout: cfg.Server.WriteTimeout,
		JWTSecret:      cfg.Auth.JWTSecret,
		Gatherer:       registry,
		Ready: func(ctx context.Context) error {
			return db.Pool.Ping(ctx)
		},
	}, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Recovery waits for a full idempotency lease so live requests keep
	// their intents.
	recoveryWorker := worker.NewRecoveryWorker(store.Intents(), intentService, cfg.Worker.Interval, cfg.Worker.BatchSize, cfg.Ledger.IdempotencyLease, m, logger)
	reversalWorker := worker.NewReversalWorker(reverser, cfg.Worker.Interval, cfg.Worker.BatchSize, m, logger)
	outboxPublisher := worker.NewOutboxPublisher(store.Outbox(), publisher, cfg.Worker.Interval, cfg.Worker.BatchSize, cfg.Worker.MaxAttempts, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recoveryWorker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		reversalWorker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		outboxPublisher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
