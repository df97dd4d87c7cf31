package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
	"go.uber.org/multierr"
)

// IntentRecoverer resumes a single in-flight intent.
type IntentRecoverer interface {
	Recover(ctx context.Context, intentID string) error
}

// RecoveryWorker finds intents that stopped mid-flight, usually because the
// process died during a terminal call, and drives them to a final state.
type RecoveryWorker struct {
	intents   application.IntentRepository
	recoverer IntentRecoverer
	interval  time.Duration
	batchSize int
	// staleAfter keeps the sweep away from intents a live request is still
	// working on.
	staleAfter time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewRecoveryWorker(
	intents application.IntentRepository,
	recoverer IntentRecoverer,
	interval time.Duration,
	batchSize int,
	staleAfter time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *RecoveryWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &RecoveryWorker{
		intents:    intents,
		recoverer:  recoverer,
		interval:   interval,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

func (w *RecoveryWorker) Start(ctx context.Context) {
	runEvery(ctx, "recovery worker", w.interval, w.metrics, w.logger, w.RunOnce)
}

// RunOnce resumes one batch of stale in-flight intents and returns how many
// were attempted.
func (w *RecoveryWorker) RunOnce(ctx context.Context) (int, error) {
	stuck, err := w.intents.FindInFlight(ctx, w.now().Add(-w.staleAfter), w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find in-flight intents: %w", err)
	}

	var errs error
	for _, intent := range stuck {
		if err := w.recoverer.Recover(ctx, intent.ID); err != nil {
			w.logger.Warn("intent recovery failed",
				"intent_id", intent.ID,
				"state", intent.State,
				"attempts", intent.AttemptCount,
				"error", err,
			)
			errs = multierr.Append(errs, fmt.Errorf("recover intent %s: %w", intent.ID, err))
		}
	}
	return len(stuck), errs
}
