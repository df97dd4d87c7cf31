package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ReconcileInput is a settled tender on its way into the order ledger.
type ReconcileInput struct {
	OrderID          string
	TerminalID       string
	Method           domain.PaymentMethod
	AmountCents      int64
	TipCents         int64
	Card             *domain.CardDetails
	IdempotencyKey   string
	IntentID         *string
	LocalID          *string
	IsOfflineCapture bool

	// OnApplied runs inside the reconciliation transaction once the record
	// is written. An error rolls the whole reconciliation back.
	OnApplied func(ctx context.Context, tx application.Store, res *ReconcileResult) error
}

type ReconcileResult struct {
	Payment         *domain.OrderPaymentRecord
	Order           *domain.Order
	Replayed        bool
	OrderFullyPaid  bool
	ParentFullyPaid bool
}

// Reconciler applies payments to the order ledger. Each application runs
// under the order lock (parent first) and a single transaction that also
// takes row locks in the same order.
type Reconciler struct {
	store   application.Store
	locker  application.OrderLocker
	policy  domain.TenderPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewReconciler(
	store application.Store,
	locker application.OrderLocker,
	policy domain.TenderPolicy,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:   store,
		locker:  locker,
		policy:  policy,
		metrics: m,
		logger:  logger,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	if in.IdempotencyKey == "" {
		return nil, domain.NewMissingRequiredFieldError("idempotency key")
	}
	if in.AmountCents <= 0 {
		return nil, domain.NewAmountValidationError("payment amount must be greater than zero")
	}

	release, err := r.lockOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *ReconcileResult
	err = r.store.WithTx(ctx, func(tx application.Store) error {
		order, parent, err := lockOrderRows(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}

		existing, err := tx.Orders().FindPaymentByIdempotencyKey(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			if existing.OrderID != in.OrderID || existing.Method != in.Method {
				return application.NewIdempotencyMismatchError()
			}
			result = &ReconcileResult{Payment: existing, Order: order, Replayed: true}
			return nil
		case !errors.Is(err, domain.ErrPaymentNotFound):
			return err
		}

		if err := order.CheckPayable(); err != nil {
			return err
		}

		applied, change, err := r.policy.Apply(in.Method, in.AmountCents, order.OutstandingCents())
		if err != nil {
			return err
		}

		rec, err := domain.NewOrderPaymentRecord(
			ulid.Make().String(), in.OrderID, in.Method, applied, in.TipCents, change, in.Card, in.IdempotencyKey,
		)
		if err != nil {
			return err
		}
		rec.IntentID = in.IntentID
		rec.TerminalID = in.TerminalID
		rec.LocalID = in.LocalID
		rec.IsOfflineCapture = in.IsOfflineCapture

		if err := tx.Orders().ApplyPayment(ctx, rec); err != nil {
			return err
		}

		paid, err := tx.Orders().PaidTotal(ctx, order.ID)
		if err != nil {
			return err
		}
		becamePaid := order.SetPaidTotal(paid, r.policy.RoundingToleranceCents)
		if err := tx.Orders().UpdateOrder(ctx, order); err != nil {
			return err
		}

		result = &ReconcileResult{Payment: rec, Order: order, OrderFullyPaid: becamePaid}

		if err := addEvent(ctx, tx, domain.EventPaymentCompleted, order.ID, paymentEvent(rec)); err != nil {
			return err
		}
		if becamePaid {
			if err := addEvent(ctx, tx, domain.EventOrderFullyPaid, order.ID, orderEvent(order)); err != nil {
				return err
			}
		}

		if parent != nil && becamePaid {
			finalized, err := finalizeParent(ctx, tx, parent)
			if err != nil {
				return err
			}
			result.ParentFullyPaid = finalized
		}

		if in.OnApplied != nil {
			return in.OnApplied(ctx, tx, result)
		}
		return nil
	})
	if err != nil {
		r.metrics.IncReconciliation(reconcileOutcome(err))
		return nil, err
	}

	switch {
	case result.Replayed:
		r.metrics.IncReconciliation("replayed")
	default:
		r.metrics.IncReconciliation("applied")
		r.logger.Info("payment applied",
			"payment_id", result.Payment.ID,
			"order_id", in.OrderID,
			"method", in.Method,
			"amount_cents", result.Payment.AmountCents,
			"change_cents", result.Payment.ChangeGivenCents,
			"order_status", result.Order.Status,
		)
	}
	return result, nil
}

// lockOrder takes the guard for an order and, for split children, its parent
// first. The parent link is immutable, so reading it before the lock is safe;
// every balance read happens after.
func (r *Reconciler) lockOrder(ctx context.Context, orderID string) (func(), error) {
	order, err := r.store.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	keys := []string{orderID}
	if order.ParentID != nil {
		keys = []string{*order.ParentID, orderID}
	}
	release, err := r.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, application.NewStateChangedError(fmt.Errorf("order %s is busy: %w", orderID, err))
	}
	return release, nil
}

// lockOrderRows row-locks the parent (if any) and then the order.
func lockOrderRows(ctx context.Context, tx application.Store, orderID string) (order, parent *domain.Order, err error) {
	order, err = tx.Orders().GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.ParentID != nil {
		parent, err = tx.Orders().LockOrder(ctx, *order.ParentID)
		if err != nil {
			return nil, nil, err
		}
	}
	order, err = tx.Orders().LockOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, parent, nil
}

// finalizeParent marks the parent paid when every live child is. Callers
// hold the parent row lock, so only one child can finalize it.
func finalizeParent(ctx context.Context, tx application.Store, parent *domain.Order) (bool, error) {
	children, err := tx.Orders().SiblingStatus(ctx, parent.ID)
	if err != nil {
		return false, err
	}
	if !domain.ChildrenSettled(children) || !parent.MarkPaid() {
		return false, nil
	}
	if err := tx.Orders().UpdateOrder(ctx, parent); err != nil {
		return false, err
	}
	if err := addEvent(ctx, tx, domain.EventOrderFullyPaid, parent.ID, orderEvent(parent)); err != nil {
		return false, err
	}
	return true, nil
}

func addEvent(ctx context.Context, tx application.Store, eventType domain.EventType, aggregateID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return tx.Outbox().Add(ctx, &domain.OutboxEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	})
}

func paymentEvent(rec *domain.OrderPaymentRecord) domain.PaymentEvent {
	return domain.PaymentEvent{
		PaymentID:        rec.ID,
		OrderID:          rec.OrderID,
		Method:           rec.Method,
		AmountCents:      rec.AmountCents,
		TipCents:         rec.TipCents,
		ChangeGivenCents: rec.ChangeGivenCents,
		RefundedCents:    rec.RefundedAmountCents,
		IsOfflineCapture: rec.IsOfflineCapture,
	}
}

func orderEvent(o *domain.Order) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:    o.ID,
		ParentID:   o.ParentID,
		TotalCents: o.TotalCents,
		PaidCents:  o.PaidCents,
	}
}

func reconcileOutcome(err error) string {
	if code := domain.ErrorCode(err); code != "" {
		return code
	}
	return string(application.CategorizeError(err))
}
