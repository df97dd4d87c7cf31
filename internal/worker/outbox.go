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

// OutboxPublisher delivers events written in the same transaction as the
// payment that caused them. Delivery is at least once.
type OutboxPublisher struct {
	outbox      application.OutboxRepository
	publisher   application.EventPublisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewOutboxPublisher(
	outbox application.OutboxRepository,
	publisher application.EventPublisher,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *OutboxPublisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &OutboxPublisher{
		outbox:      outbox,
		publisher:   publisher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		metrics:     m,
		logger:      logger,
	}
}

func (p *OutboxPublisher) Start(ctx context.Context) {
	runEvery(ctx, "outbox publisher", p.interval, p.metrics, p.logger, p.RunOnce)
}

// RunOnce publishes one batch in creation order and returns how many events
// were delivered. Events past maxAttempts stay unpublished and are skipped.
func (p *OutboxPublisher) RunOnce(ctx context.Context) (int, error) {
	events, err := p.outbox.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished events: %w", err)
	}

	var (
		published int
		errs      error
	)
	for _, ev := range events {
		if ev.Attempts >= p.maxAttempts {
			p.metrics.IncOutbox("dead")
			continue
		}

		if err := p.publisher.Publish(ctx, ev); err != nil {
			p.metrics.IncOutbox("failed")
			if markErr := p.outbox.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
				errs = multierr.Append(errs, markErr)
			}
			if ev.Attempts+1 >= p.maxAttempts {
				p.logger.Error("event undeliverable",
					"event_id", ev.ID,
					"type", ev.Type,
					"aggregate_id", ev.AggregateID,
					"error", err,
				)
			}
			errs = multierr.Append(errs, fmt.Errorf("publish event %s: %w", ev.ID, err))
			continue
		}

		if err := p.outbox.MarkPublished(ctx, ev.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mark event %s published: %w", ev.ID, err))
			continue
		}
		p.metrics.IncOutbox("published")
		published++
	}
	return published, errs
}
