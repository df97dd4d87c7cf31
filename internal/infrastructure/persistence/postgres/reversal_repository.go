package postgres

import (
	"context"
	"fmt"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/jackc/pgx/v5"
)

type reversalRepository struct {
	q Executor
}

const reversalColumns = `
	id, kind, intent_id, payment_id, terminal_id, reference, record_no, amount_cents,
	status, attempts, next_retry_at, last_error, created_at, updated_at`

func (r *reversalRepository) Create(ctx context.Context, rev *domain.Reversal) error {
	_, err := r.q.Exec(ctx, `INSERT INTO pending_reversals (`+reversalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rev.ID, string(rev.Kind), rev.IntentID, rev.PaymentID, rev.TerminalID, rev.Reference, rev.RecordNo, rev.AmountCents,
		string(rev.Status), rev.Attempts, rev.NextRetryAt, rev.LastError, rev.CreatedAt, rev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reversal: %w", err)
	}
	return nil
}

func (r *reversalRepository) FindByID(ctx context.Context, id string) (*domain.Reversal, error) {
	rev, err := scanReversal(r.q.QueryRow(ctx, `SELECT `+reversalColumns+` FROM pending_reversals WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewReversalNotFoundError(id)
		}
		return nil, fmt.Errorf("find reversal: %w", err)
	}
	return rev, nil
}

func (r *reversalRepository) FindVoidByIntent(ctx context.Context, intentID string) (*domain.Reversal, error) {
	rev, err := scanReversal(r.q.QueryRow(ctx, `
		SELECT `+reversalColumns+`
		FROM pending_reversals
		WHERE intent_id = $1 AND kind = 'void'
		ORDER BY created_at
		LIMIT 1
	`, intentID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find intent reversal: %w", err)
	}
	return rev, nil
}

func (r *reversalRepository) FindDue(ctx context.Context, limit int) ([]*domain.Reversal, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+reversalColumns+`
		FROM pending_reversals
		WHERE status = 'pending' AND next_retry_at <= now()
		ORDER BY next_retry_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query due reversals: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Reversal, error) {
		return scanReversal(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan due reversals: %w", err)
	}
	return results, nil
}

func (r *reversalRepository) Update(ctx context.Context, rev *domain.Reversal) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE pending_reversals
		SET record_no = $2, status = $3, attempts = $4, next_retry_at = $5, last_error = $6, updated_at = $7
		WHERE id = $1
	`, rev.ID, rev.RecordNo, string(rev.Status), rev.Attempts, rev.NextRetryAt, rev.LastError, rev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reversal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewReversalNotFoundError(rev.ID)
	}
	return nil
}

func scanReversal(row pgx.Row) (*domain.Reversal, error) {
	var rev domain.Reversal
	var kind, status string
	err := row.Scan(
		&rev.ID, &kind, &rev.IntentID, &rev.PaymentID, &rev.TerminalID, &rev.Reference, &rev.RecordNo, &rev.AmountCents,
		&status, &rev.Attempts, &rev.NextRetryAt, &rev.LastError, &rev.CreatedAt, &rev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rev.Kind = domain.ReversalKind(kind)
	rev.Status = domain.ReversalStatus(status)
	return &rev, nil
}
