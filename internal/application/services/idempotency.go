package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

const defaultPollInterval = 100 * time.Millisecond

// IdempotencyLedger guards every money-moving operation. A key is reserved
// before any side effect, completed in the same transaction as the outcome,
// and released when a retryable failure leaves the outcome open.
type IdempotencyLedger struct {
	store        application.Store
	lease        time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
}

func NewIdempotencyLedger(store application.Store, lease, waitTimeout time.Duration) *IdempotencyLedger {
	return &IdempotencyLedger{
		store:        store,
		lease:        lease,
		waitTimeout:  waitTimeout,
		pollInterval: defaultPollInterval,
	}
}

// Reserve claims key for subjectID. When another attempt holds the key it
// polls until that attempt finishes or the wait timeout passes; the caller
// then gets REQUEST_PROCESSING and may retry later with the same key.
func (l *IdempotencyLedger) Reserve(ctx context.Context, key, subjectID, requestHash string) (*domain.Reservation, error) {
	return l.reserve(ctx, key, subjectID, requestHash, l.waitTimeout)
}

// TryReserve is Reserve without waiting. Background sweeps use it to skip
// keys a live request is working on.
func (l *IdempotencyLedger) TryReserve(ctx context.Context, key, subjectID, requestHash string) (*domain.Reservation, error) {
	return l.reserve(ctx, key, subjectID, requestHash, 0)
}

func (l *IdempotencyLedger) reserve(ctx context.Context, key, subjectID, requestHash string, wait time.Duration) (*domain.Reservation, error) {
	rec := &domain.IdempotencyRecord{Key: key, SubjectID: subjectID, RequestHash: requestHash}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		stored, acquired, err := l.store.Idempotency().Reserve(ctx, rec, l.lease)
		if err != nil {
			return nil, application.NewInternalError(err)
		}
		if stored.RequestHash != requestHash {
			return nil, application.NewIdempotencyMismatchError()
		}

		switch {
		case acquired:
			return &domain.Reservation{Key: key, SubjectID: stored.SubjectID, Status: domain.ReservationAcquired}, nil
		case stored.IsComplete():
			return &domain.Reservation{
				Key:       key,
				SubjectID: stored.SubjectID,
				Status:    domain.ReservationCompleted,
				Response:  stored.Response,
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, application.NewRequestProcessingError(key)
		}
		select {
		case <-ctx.Done():
			return nil, application.NewRequestProcessingError(key)
		case <-ticker.C:
		}
	}
}

// Complete stores the final outcome. Pass the transactional store so the
// outcome commits together with the change it describes.
func (l *IdempotencyLedger) Complete(ctx context.Context, tx application.Store, key string, response any) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal idempotent response: %w", err)
	}
	if err := tx.Idempotency().Complete(ctx, key, data); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release gives the key back after a failure whose outcome is still open.
// It runs detached from ctx so a cancelled request does not keep the lease.
func (l *IdempotencyLedger) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return l.store.Idempotency().Release(ctx, key)
}

// Lease is how long a reservation stays exclusive without being released.
func (l *IdempotencyLedger) Lease() time.Duration {
	return l.lease
}
