package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
)

// ReversalProcessor attempts every reversal whose retry time has come.
type ReversalProcessor interface {
	ProcessDue(ctx context.Context, limit int) (int, error)
}

// ReversalWorker drains the reversal queue. Voids and refunds that failed
// on the request path are retried here with the reverser's backoff.
type ReversalWorker struct {
	reverser  ReversalProcessor
	interval  time.Duration
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewReversalWorker(reverser ReversalProcessor, interval time.Duration, batchSize int, m *metrics.Metrics, logger *slog.Logger) *ReversalWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReversalWorker{
		reverser:  reverser,
		interval:  interval,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger,
	}
}

func (w *ReversalWorker) Start(ctx context.Context) {
	runEvery(ctx, "reversal worker", w.interval, w.metrics, w.logger, w.RunOnce)
}

func (w *ReversalWorker) RunOnce(ctx context.Context) (int, error) {
	return w.reverser.ProcessDue(ctx, w.batchSize)
}
