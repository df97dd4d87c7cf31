// Command terminal-agent runs next to a POS terminal. It accepts payments
// while the store is offline, keeps them in a local SQLite queue and syncs
// them to the payment core once the link is back.
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

	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest/handlers"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/offline"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger().With("terminal_id", cfg.Terminal.TerminalID)
	slog.SetDefault(logger)

	if cfg.Terminal.TerminalID == "" {
		logger.Error("terminal id is required for the agent")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("terminal agent stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("terminal agent exited")
}

func run(cfg *config.AgentConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := offline.Open(ctx, cfg.Offline.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	queue := offline.NewQueue(db, cfg.Terminal.TerminalID, logger)
	client := offline.NewHTTPSyncClient(cfg.Sync, cfg.Terminal.TerminalID)
	syncWorker := offline.NewSyncWorker(queue, client, cfg.Sync, m, logger)

	server := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Server.Port,
		Handler:      handlers.NewAgentRouter(handlers.NewAgentHandlers(queue, syncWorker, logger), registry, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		syncWorker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("agent listening", "addr", server.Addr, "server_url", cfg.Sync.ServerURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
