// Package events delivers outbox events to downstream consumers such as
// receipt printing, inventory deduction and live UI updates.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Envelope is the wire form of an event. Consumers deduplicate on ID.
type Envelope struct {
	ID          string           `json:"id"`
	Type        domain.EventType `json:"type"`
	AggregateID string           `json:"aggregate_id"`
	Payload     json.RawMessage  `json:"payload"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

func NewEnvelope(ev *domain.OutboxEvent) Envelope {
	return Envelope{
		ID:          ev.ID,
		Type:        ev.Type,
		AggregateID: ev.AggregateID,
		Payload:     ev.Payload,
		OccurredAt:  ev.CreatedAt,
	}
}

// RedisPublisher fans events out over Redis Pub/Sub.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev *domain.OutboxEvent) error {
	data, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

// LogPublisher writes events to the log. It is used when no broker is
// configured so events are still visible.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev *domain.OutboxEvent) error {
	p.logger.InfoContext(ctx, "event emitted",
		"event_id", ev.ID,
		"type", ev.Type,
		"aggregate_id", ev.AggregateID,
		"payload", string(ev.Payload),
	)
	return nil
}
