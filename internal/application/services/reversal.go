package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type ReverserConfig struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
	// SettleWindow is how long a reversal keyed only by reference keeps
	// asking the terminal before "not found" is taken as "never charged".
	// It must outlast the longest terminal call.
	SettleWindow time.Duration
}

// Reverser owns processor-side voids and refunds. Every reversal is a
// durable row first; Attempt then tries it once and reschedules on failure.
type Reverser struct {
	store    application.Store
	terminal application.TerminalClient
	locker   application.OrderLocker
	cfg      ReverserConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewReverser(
	store application.Store,
	terminal application.TerminalClient,
	locker application.OrderLocker,
	cfg ReverserConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Reverser {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Reverser{
		store:    store,
		terminal: terminal,
		locker:   locker,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// NewIntentReversal builds the void for an intent's authorization. Without
// an authorization the outcome is unknown and the reversal starts with a
// status check by reference.
func NewIntentReversal(intent *domain.PaymentIntent) *domain.Reversal {
	now := time.Now().UTC()
	rev := &domain.Reversal{
		ID:          uuid.NewString(),
		Kind:        domain.ReversalVoid,
		IntentID:    ptr(intent.ID),
		TerminalID:  intent.TerminalID,
		Reference:   intent.IdempotencyKey,
		AmountCents: intent.AmountCents + intent.TipCents,
		Status:      domain.ReversalPending,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if intent.HasAuthorizationRef() {
		rev.RecordNo = intent.Authorization.ReferenceNumber
	}
	return rev
}

func NewPaymentReversal(kind domain.ReversalKind, rec *domain.OrderPaymentRecord, amountCents int64) *domain.Reversal {
	now := time.Now().UTC()
	return &domain.Reversal{
		ID:          uuid.NewString(),
		Kind:        kind,
		IntentID:    rec.IntentID,
		PaymentID:   ptr(rec.ID),
		TerminalID:  rec.TerminalID,
		Reference:   rec.IdempotencyKey,
		RecordNo:    rec.Card.AuthorizationRef,
		AmountCents: amountCents,
		Status:      domain.ReversalPending,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// VoidLateAuthorization handles an approval that arrived after its intent was
// cancelled or failed. A by-reference void queued earlier is upgraded with
// the record number instead of queueing a second one.
func (r *Reverser) VoidLateAuthorization(ctx context.Context, intent *domain.PaymentIntent, result *domain.AuthorizationResult) error {
	r.logger.Warn("authorization approved after intent closed, voiding",
		"intent_id", intent.ID,
		"intent_state", intent.State,
		"order_id", intent.OrderID,
		"record_no", result.ReferenceNumber,
	)

	existing, err := r.store.Reversals().FindVoidByIntent(ctx, intent.ID)
	if err != nil {
		return err
	}

	switch {
	case existing != nil && existing.Status == domain.ReversalPending:
		return r.withReversal(ctx, existing.ID, func(rev *domain.Reversal) error {
			if rev.RecordNo == "" {
				rev.RecordNo = result.ReferenceNumber
				rev.UpdatedAt = time.Now().UTC()
			}
			return r.attempt(ctx, rev)
		})
	case existing != nil && existing.RecordNo == result.ReferenceNumber:
		return nil
	}

	rev := NewIntentReversal(intent)
	rev.RecordNo = result.ReferenceNumber
	if err := r.store.Reversals().Create(ctx, rev); err != nil {
		return err
	}
	return r.Attempt(ctx, rev.ID)
}

// Attempt tries a pending reversal once. The reversal is serialized on its
// ID so the worker and a live request never send the same void twice.
func (r *Reverser) Attempt(ctx context.Context, reversalID string) error {
	return r.withReversal(ctx, reversalID, func(rev *domain.Reversal) error {
		return r.attempt(ctx, rev)
	})
}

func (r *Reverser) withReversal(ctx context.Context, id string, fn func(rev *domain.Reversal) error) error {
	release, err := r.locker.Lock(ctx, "reversal:"+id)
	if err != nil {
		return err
	}
	defer release()

	rev, err := r.store.Reversals().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rev.Status != domain.ReversalPending {
		return nil
	}
	if err := fn(rev); err != nil {
		return err
	}
	return r.store.Reversals().Update(ctx, rev)
}

// attempt mutates rev; the caller persists it.
func (r *Reverser) attempt(ctx context.Context, rev *domain.Reversal) error {
	if rev.RecordNo == "" {
		resolved, err := r.resolveReference(ctx, rev)
		if err != nil || !resolved {
			return err
		}
	}

	reqType := application.RequestVoid
	if rev.Kind == domain.ReversalRefund {
		reqType = application.RequestRefund
	}

	_, err := r.terminal.Send(ctx, application.TerminalRequest{
		Type:        reqType,
		TerminalID:  rev.TerminalID,
		Reference:   rev.RequestReference(),
		RecordNo:    rev.RecordNo,
		AmountCents: rev.AmountCents,
	})
	if err != nil {
		r.failed(rev, err)
		return nil
	}

	rev.MarkDone()
	r.metrics.IncReversal("done")
	r.logger.Info("processor reversal completed",
		"reversal_id", rev.ID,
		"kind", rev.Kind,
		"record_no", rev.RecordNo,
		"amount_cents", rev.AmountCents,
	)
	return nil
}

// resolveReference asks the terminal what happened to rev.Reference. It
// reports true when rev now carries a record number to reverse.
func (r *Reverser) resolveReference(ctx context.Context, rev *domain.Reversal) (bool, error) {
	if rev.Reference == "" {
		rev.MarkDone()
		return false, nil
	}

	result, err := r.terminal.Send(ctx, application.TerminalRequest{
		Type:       application.RequestStatusCheck,
		TerminalID: rev.TerminalID,
		Reference:  rev.Reference,
	})
	if err != nil {
		r.failed(rev, err)
		return false, nil
	}

	switch {
	case result.Success && result.ReferenceNumber != "":
		rev.RecordNo = result.ReferenceNumber
		return true, nil
	case result.ResponseCode == application.ResponseCodeNotFound &&
		time.Since(rev.CreatedAt) < r.cfg.SettleWindow:
		rev.ScheduleRetry(backoff(r.cfg.BaseBackoff, r.cfg.MaxBackoff, rev.Attempts), "terminal has not reported the transaction yet")
		return false, nil
	default:
		rev.MarkDone()
		r.metrics.IncReversal("nothing_to_reverse")
		r.logger.Info("no approved transaction for reference, nothing to reverse",
			"reversal_id", rev.ID,
			"reference", rev.Reference,
			"response_code", result.ResponseCode,
		)
		return false, nil
	}
}

func (r *Reverser) failed(rev *domain.Reversal, err error) {
	termErr, _ := application.IsTerminalError(err)
	retryable := termErr == nil || termErr.Retryable

	if retryable && rev.Attempts+1 < r.cfg.MaxAttempts {
		rev.ScheduleRetry(backoff(r.cfg.BaseBackoff, r.cfg.MaxBackoff, rev.Attempts), err.Error())
		r.metrics.IncReversal("retry")
		r.logger.Warn("processor reversal failed, will retry",
			"reversal_id", rev.ID,
			"attempt", rev.Attempts,
			"next_retry_at", rev.NextRetryAt,
			"error", err,
		)
		return
	}

	rev.MarkManual(err.Error())
	r.metrics.IncReversal("manual")
	r.logger.Error("processor reversal needs manual resolution",
		"action", "MANUAL_REVERSAL_REQUIRED",
		"reversal_id", rev.ID,
		"kind", rev.Kind,
		"terminal_id", rev.TerminalID,
		"reference", rev.Reference,
		"request_reference", rev.RequestReference(),
		"record_no", rev.RecordNo,
		"amount_cents", rev.AmountCents,
		"error", err,
	)
}

// ProcessDue attempts every reversal whose retry time has come.
func (r *Reverser) ProcessDue(ctx context.Context, limit int) (int, error) {
	due, err := r.store.Reversals().FindDue(ctx, limit)
	if err != nil {
		return 0, err
	}
	var errs error
	for _, rev := range due {
		if err := r.Attempt(ctx, rev.ID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return len(due), errs
}
