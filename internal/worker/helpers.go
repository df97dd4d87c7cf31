// Package worker runs the server's background sweeps: recovery of intents
// left in flight, the reversal queue and the outbox publisher.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
)

// runEvery calls pass once immediately and then on every tick until ctx is
// cancelled. A failed pass is logged and the loop keeps going.
func runEvery(
	ctx context.Context,
	name string,
	interval time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
	pass func(ctx context.Context) (int, error),
) {
	logger.Info(name+" started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		start := time.Now()
		n, err := pass(ctx)
		m.ObserveJob(name, time.Since(start))
		if err != nil {
			logger.Error(name+" pass failed", "processed", n, "error", err)
			return
		}
		if n > 0 {
			logger.Info(name+" pass finished", "processed", n)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			logger.Info(name + " stopping")
			return
		case <-ticker.C:
			run()
		}
	}
}
