package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/jackc/pgx/v5"
)

type intentRepository struct {
	q Executor
}

const intentColumns = `
	id, idempotency_key, order_id, terminal_id, amount_cents, tip_cents, kind, state,
	history, generation, is_offline_capture, signature_captured, authorization_result,
	captured_at, payment_id, needs_reconciliation, attempt_count, next_retry_at, last_error_category,
	created_at, updated_at`

func (r *intentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	m, err := toIntentModel(intent)
	if err != nil {
		return err
	}

	query := `INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = r.q.Exec(ctx, query,
		m.ID, m.IdempotencyKey, m.OrderID, m.TerminalID, m.AmountCents, m.TipCents, m.Kind, m.State,
		m.History, m.Generation, m.IsOfflineCapture, m.SignatureCaptured, m.Authorization,
		m.CapturedAt, m.PaymentID, m.NeedsReconciliation, m.AttemptCount, m.NextRetryAt, m.LastErrorCategory,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewDuplicateKeyError(intent.IdempotencyKey)
		}
		return fmt.Errorf("insert payment intent: %w", err)
	}

	intent.MarkPersisted()
	return nil
}

func (r *intentRepository) FindByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`

	intent, err := scanIntent(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewIntentNotFoundError(id)
		}
		return nil, fmt.Errorf("find payment intent: %w", err)
	}
	return intent, nil
}

// Update writes the intent only if storage still holds the generation it was
// loaded at.
func (r *intentRepository) Update(ctx context.Context, intent *domain.PaymentIntent) error {
	m, err := toIntentModel(intent)
	if err != nil {
		return err
	}

	query := `
		UPDATE payment_intents
		SET idempotency_key = $3, state = $4, history = $5, generation = $6,
			signature_captured = $7, authorization_result = $8, payment_id = $9,
			needs_reconciliation = $10, attempt_count = $11, next_retry_at = $12,
			last_error_category = $13, updated_at = $14, tip_cents = $15, captured_at = $16
		WHERE id = $1 AND generation = $2
	`

	tag, err := r.q.Exec(ctx, query,
		m.ID, intent.BaseGeneration(), m.IdempotencyKey, m.State, m.History, m.Generation,
		m.SignatureCaptured, m.Authorization, m.PaymentID,
		m.NeedsReconciliation, m.AttemptCount, m.NextRetryAt,
		m.LastErrorCategory, m.UpdatedAt, m.TipCents, m.CapturedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewDuplicateKeyError(intent.IdempotencyKey)
		}
		return fmt.Errorf("update payment intent: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check payment intent: %w", err)
		}
		if !exists {
			return domain.NewIntentNotFoundError(m.ID)
		}
		return domain.NewStaleGenerationError(m.ID)
	}

	intent.MarkPersisted()
	return nil
}

// FindInFlight returns intents stuck in a non-terminal state since before
// updatedBefore whose retry time has come.
func (r *intentRepository) FindInFlight(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE state IN ('tokenizing', 'authorizing', 'needs_signature', 'capturing')
		  AND updated_at < $1
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query in-flight intents: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.PaymentIntent, error) {
		return scanIntent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan in-flight intents: %w", err)
	}
	return results, nil
}

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var m IntentModel
	err := row.Scan(
		&m.ID, &m.IdempotencyKey, &m.OrderID, &m.TerminalID, &m.AmountCents, &m.TipCents, &m.Kind, &m.State,
		&m.History, &m.Generation, &m.IsOfflineCapture, &m.SignatureCaptured, &m.Authorization,
		&m.CapturedAt, &m.PaymentID, &m.NeedsReconciliation, &m.AttemptCount, &m.NextRetryAt, &m.LastErrorCategory,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return toDomainIntent(&m)
}
