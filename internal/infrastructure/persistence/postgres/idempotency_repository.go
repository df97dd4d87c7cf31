package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/jackc/pgx/v5"
)

type idempotencyRepository struct {
	q Executor
}

const idempotencyColumns = `key, subject_id, request_hash, locked_at, response, completed_at, created_at`

// Reserve takes the key with a lease. A key whose holder released it, or
// whose lease ran out before completing, can be taken again by a request
// with the same hash.
func (r *idempotencyRepository) Reserve(ctx context.Context, rec *domain.IdempotencyRecord, lease time.Duration) (*domain.IdempotencyRecord, bool, error) {
	now := time.Now().UTC()

	tag, err := r.q.Exec(ctx, `
		INSERT INTO idempotency_keys (key, subject_id, request_hash, locked_at, created_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (key) DO NOTHING
	`, rec.Key, rec.SubjectID, rec.RequestHash, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		stored := *rec
		stored.LockedAt = &now
		stored.CreatedAt = now
		return &stored, true, nil
	}

	row := r.q.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET locked_at = $2
		WHERE key = $1
		  AND completed_at IS NULL
		  AND request_hash = $3
		  AND (locked_at IS NULL OR locked_at < $4)
		RETURNING `+idempotencyColumns,
		rec.Key, now, rec.RequestHash, now.Add(-lease),
	)
	stored, err := scanIdempotency(row)
	if err == nil {
		return stored, true, nil
	}
	if !isNoRows(err) {
		return nil, false, fmt.Errorf("failed to re-acquire idempotency lock: %w", err)
	}

	stored, err = r.FindByKey(ctx, rec.Key)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *idempotencyRepository) FindByKey(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, err := scanIdempotency(r.q.QueryRow(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("no key found: %w", err)
		}
		return nil, fmt.Errorf("find idempotency key: %w", err)
	}
	return rec, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, key string, response []byte) error {
	_, err := r.q.Exec(ctx, `
		UPDATE idempotency_keys
		SET response = $2, completed_at = now(), locked_at = NULL
		WHERE key = $1
	`, key, response)
	if err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE idempotency_keys
		SET locked_at = NULL
		WHERE key = $1 AND completed_at IS NULL
	`, key)
	if err != nil {
		return fmt.Errorf("failed to release idempotency lock: %w", err)
	}
	return nil
}

func scanIdempotency(row pgx.Row) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	var response []byte
	if err := row.Scan(
		&rec.Key, &rec.SubjectID, &rec.RequestHash, &rec.LockedAt, &response, &rec.CompletedAt, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.Response = response
	return &rec, nil
}
