package postgres

import (
	"context"
	"fmt"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/jackc/pgx/v5"
)

// Store hands out repositories bound to either the pool or a transaction.
type Store struct {
	db *DB
	q  Executor
	tx pgx.Tx
}

func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.Pool}
}

func (s *Store) Intents() application.IntentRepository {
	return &intentRepository{q: s.q}
}

func (s *Store) Idempotency() application.IdempotencyRepository {
	return &idempotencyRepository{q: s.q}
}

func (s *Store) Orders() application.OrderLedger {
	return &orderRepository{q: s.q}
}

func (s *Store) Outbox() application.OutboxRepository {
	return &outboxRepository{q: s.q}
}

func (s *Store) Reversals() application.ReversalRepository {
	return &reversalRepository{q: s.q}
}

// WithTx executes fn within a database transaction. A Store that is already
// transactional runs fn in place.
func (s *Store) WithTx(ctx context.Context, fn func(tx application.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
