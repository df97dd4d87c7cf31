package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
)

// TenderReceipt is returned for a tender and cached against its key.
type TenderReceipt struct {
	PaymentID        string               `json:"payment_id"`
	OrderID          string               `json:"order_id"`
	Method           domain.PaymentMethod `json:"method"`
	AmountCents      int64                `json:"amount_cents"`
	ChangeGivenCents int64                `json:"change_given_cents"`
	OrderStatus      domain.OrderStatus   `json:"order_status"`
	OutstandingCents int64                `json:"outstanding_cents"`
	Replayed         bool                 `json:"replayed"`
}

// PaymentService owns the order side: orders, non-card tenders, and voids and
// refunds of recorded payments.
type PaymentService struct {
	store      application.Store
	ledger     *IdempotencyLedger
	reconciler *Reconciler
	reverser   *Reverser
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewPaymentService(
	store application.Store,
	ledger *IdempotencyLedger,
	reconciler *Reconciler,
	reverser *Reverser,
	m *metrics.Metrics,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		store:      store,
		ledger:     ledger,
		reconciler: reconciler,
		reverser:   reverser,
		metrics:    m,
		logger:     logger,
	}
}

func (s *PaymentService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	order, err := domain.NewOrder(cmd.OrderID, cmd.ParentID, cmd.TotalCents)
	if err != nil {
		return nil, err
	}
	if cmd.ParentID != nil {
		parent, err := s.store.Orders().GetOrder(ctx, *cmd.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.ParentID != nil {
			return nil, domain.NewInvalidMethodError("split orders cannot be nested")
		}
		if parent.IsClosed() {
			return nil, domain.NewOrderVoidedError(parent.ID)
		}
	}
	if err := s.store.Orders().CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.logger.Info("order registered", "order_id", order.ID, "parent_id", order.ParentID, "total_cents", order.TotalCents)
	return order, nil
}

func (s *PaymentService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.store.Orders().GetOrder(ctx, orderID)
}

func (s *PaymentService) ListPayments(ctx context.Context, orderID string) ([]*domain.OrderPaymentRecord, error) {
	if _, err := s.store.Orders().GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Orders().ListPayments(ctx, orderID)
}

// ApplyTender records a tender that needs no terminal, such as cash. The key
// must have been issued for this terminal, order and amount.
func (s *PaymentService) ApplyTender(ctx context.Context, cmd TenderCommand) (*TenderReceipt, error) {
	parts, err := domain.ParseIdempotencyKey(cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := parts.Matches(cmd.TerminalID, cmd.OrderID, cmd.AmountCents); err != nil {
		return nil, err
	}
	if cmd.Card != nil {
		if _, err := domain.NewCardDetails(cmd.Card.AuthorizationRef, cmd.Card.CardBrand, cmd.Card.Last4, cmd.Card.AuthCode); err != nil {
			return nil, err
		}
	}

	res, err := s.ledger.Reserve(ctx, cmd.IdempotencyKey, cmd.OrderID, ComputeHash(cmd))
	if err != nil {
		return nil, err
	}
	if res.Status == domain.ReservationCompleted {
		var receipt TenderReceipt
		if err := json.Unmarshal(res.Response, &receipt); err != nil {
			return nil, application.NewInternalError(fmt.Errorf("decode cached tender: %w", err))
		}
		receipt.Replayed = true
		return &receipt, nil
	}

	result, err := s.reconciler.Reconcile(ctx, ReconcileInput{
		OrderID:        cmd.OrderID,
		TerminalID:     cmd.TerminalID,
		Method:         cmd.Method,
		AmountCents:    cmd.AmountCents,
		TipCents:       cmd.TipCents,
		Card:           cmd.Card,
		IdempotencyKey: cmd.IdempotencyKey,
		OnApplied: func(ctx context.Context, tx application.Store, r *ReconcileResult) error {
			return s.ledger.Complete(ctx, tx, cmd.IdempotencyKey, tenderReceipt(r))
		},
	})
	if err != nil {
		_ = s.ledger.Release(ctx, cmd.IdempotencyKey)
		return nil, err
	}

	receipt := tenderReceipt(result)
	if result.Replayed {
		if err := s.completeKey(ctx, cmd.IdempotencyKey, receipt); err != nil {
			return nil, err
		}
		receipt.Replayed = true
	}
	return &receipt, nil
}

// VoidPayment voids a recorded payment. Card payments are also voided at the
// processor; that reversal is queued in the same transaction.
func (s *PaymentService) VoidPayment(ctx context.Context, cmd VoidPaymentCommand) (*domain.OrderPaymentRecord, error) {
	hash := ComputeHash(struct {
		Op        string `json:"op"`
		PaymentID string `json:"payment_id"`
	}{"void", cmd.PaymentID})

	return s.adjust(ctx, cmd.PaymentID, cmd.IdempotencyKey, hash, func(rec *domain.OrderPaymentRecord) (*adjustment, error) {
		if err := rec.Void(time.Now()); err != nil {
			return nil, err
		}
		adj := &adjustment{event: domain.EventPaymentVoided}
		if rec.Method == domain.MethodCard && rec.Card != nil {
			adj.reversal = NewPaymentReversal(domain.ReversalVoid, rec, rec.AmountCents+rec.TipCents-rec.RefundedAmountCents)
		}
		s.logger.Info("payment voided", "payment_id", rec.ID, "order_id", rec.OrderID, "reason", cmd.Reason)
		return adj, nil
	})
}

func (s *PaymentService) RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (*domain.OrderPaymentRecord, error) {
	hash := ComputeHash(struct {
		Op          string `json:"op"`
		PaymentID   string `json:"payment_id"`
		AmountCents int64  `json:"amount_cents"`
	}{"refund", cmd.PaymentID, cmd.AmountCents})

	return s.adjust(ctx, cmd.PaymentID, cmd.IdempotencyKey, hash, func(rec *domain.OrderPaymentRecord) (*adjustment, error) {
		if err := rec.Refund(cmd.AmountCents); err != nil {
			return nil, err
		}
		adj := &adjustment{event: domain.EventPaymentRefunded}
		if rec.Method == domain.MethodCard && rec.Card != nil {
			adj.reversal = NewPaymentReversal(domain.ReversalRefund, rec, cmd.AmountCents)
		}
		s.logger.Info("payment refunded", "payment_id", rec.ID, "order_id", rec.OrderID, "amount_cents", cmd.AmountCents)
		return adj, nil
	})
}

type adjustment struct {
	event    domain.EventType
	reversal *domain.Reversal
}

// adjust runs a void or refund under the same guard and row locks as a
// payment, recomputes the order, and reopens a paid parent.
func (s *PaymentService) adjust(
	ctx context.Context,
	paymentID, key, hash string,
	change func(rec *domain.OrderPaymentRecord) (*adjustment, error),
) (*domain.OrderPaymentRecord, error) {
	if key == "" {
		return nil, domain.NewMissingRequiredFieldError("idempotency key")
	}

	rec, err := s.store.Orders().FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.Reserve(ctx, key, paymentID, hash)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.ReservationCompleted {
		return s.store.Orders().FindPayment(ctx, paymentID)
	}

	release, err := s.reconciler.lockOrder(ctx, rec.OrderID)
	if err != nil {
		_ = s.ledger.Release(ctx, key)
		return nil, err
	}
	defer release()

	var adj *adjustment
	err = s.store.WithTx(ctx, func(tx application.Store) error {
		order, parent, err := lockOrderRows(ctx, tx, rec.OrderID)
		if err != nil {
			return err
		}
		rec, err = tx.Orders().LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}

		adj, err = change(rec)
		if err != nil {
			return err
		}
		if err := tx.Orders().UpdatePayment(ctx, rec); err != nil {
			return err
		}

		paid, err := tx.Orders().PaidTotal(ctx, order.ID)
		if err != nil {
			return err
		}
		order.SetPaidTotal(paid, s.reconciler.policy.RoundingToleranceCents)
		if err := tx.Orders().UpdateOrder(ctx, order); err != nil {
			return err
		}
		if parent != nil && order.Status != domain.OrderPaid && parent.Reopen() {
			if err := tx.Orders().UpdateOrder(ctx, parent); err != nil {
				return err
			}
		}

		if err := addEvent(ctx, tx, adj.event, order.ID, paymentEvent(rec)); err != nil {
			return err
		}
		if adj.reversal != nil {
			if err := tx.Reversals().Create(ctx, adj.reversal); err != nil {
				return err
			}
		}
		return s.ledger.Complete(ctx, tx, key, paymentEvent(rec))
	})
	if err != nil {
		_ = s.ledger.Release(ctx, key)
		return nil, err
	}

	if adj.reversal != nil {
		if err := s.reverser.Attempt(ctx, adj.reversal.ID); err != nil {
			s.logger.Warn("processor reversal attempt failed, left queued",
				"payment_id", rec.ID,
				"reversal_id", adj.reversal.ID,
				"error", err,
			)
		}
	}
	return rec, nil
}

func (s *PaymentService) completeKey(ctx context.Context, key string, response any) error {
	return s.store.WithTx(ctx, func(tx application.Store) error {
		return s.ledger.Complete(ctx, tx, key, response)
	})
}

func tenderReceipt(r *ReconcileResult) TenderReceipt {
	return TenderReceipt{
		PaymentID:        r.Payment.ID,
		OrderID:          r.Payment.OrderID,
		Method:           r.Payment.Method,
		AmountCents:      r.Payment.AmountCents,
		ChangeGivenCents: r.Payment.ChangeGivenCents,
		OrderStatus:      r.Order.Status,
		OutstandingCents: r.Order.OutstandingCents(),
	}
}
