package postgres

import (
	"context"
	"fmt"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/jackc/pgx/v5"
)

type outboxRepository struct {
	q Executor
}

func (r *outboxRepository) Add(ctx context.Context, ev *domain.OutboxEvent) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO outbox_events (id, type, aggregate_id, payload, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, string(ev.Type), ev.AggregateID, []byte(ev.Payload), ev.Attempts, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// FetchUnpublished returns the oldest unpublished events. Rows locked by
// another publisher are skipped.
func (r *outboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, type, aggregate_id, payload, attempts, last_error, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.OutboxEvent, error) {
		var ev domain.OutboxEvent
		var eventType string
		var payload []byte
		err := row.Scan(&ev.ID, &eventType, &ev.AggregateID, &payload, &ev.Attempts, &ev.LastError, &ev.CreatedAt, &ev.PublishedAt)
		ev.Type = domain.EventType(eventType)
		ev.Payload = payload
		return &ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `UPDATE outbox_events SET published_at = now(), last_error = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, lastErr string) error {
	_, err := r.q.Exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, lastErr)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return nil
}
