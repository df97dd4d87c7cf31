package postgres

import (
	"context"
	"fmt"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/jackc/pgx/v5"
)

type orderRepository struct {
	q Executor
}

const (
	orderColumns   = `id, parent_id, total_cents, paid_cents, status, version, updated_at`
	paymentColumns = `
		id, order_id, method, amount_cents, tip_cents, change_given_cents, refunded_amount_cents,
		authorization_ref, card_brand, last4, auth_code, idempotency_key, intent_id, terminal_id,
		local_id, is_offline_capture, voided_at, created_at`
)

func (r *orderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO orders (id, parent_id, total_cents, paid_cents, status, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.ParentID, order.TotalCents, order.PaidCents, string(order.Status), order.Version, order.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewDuplicateKeyError(order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return r.findOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

// LockOrder reads the order with a row lock held until the transaction ends.
func (r *orderRepository) LockOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return r.findOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
}

func (r *orderRepository) findOrder(ctx context.Context, query, orderID string) (*domain.Order, error) {
	var o domain.Order
	var status string
	err := r.q.QueryRow(ctx, query, orderID).Scan(
		&o.ID, &o.ParentID, &o.TotalCents, &o.PaidCents, &status, &o.Version, &o.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewOrderNotFoundError(orderID)
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (r *orderRepository) OutstandingBalance(ctx context.Context, orderID string) (int64, error) {
	order, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return order.OutstandingCents(), nil
}

func (r *orderRepository) SiblingStatus(ctx context.Context, parentOrderID string) ([]domain.ChildStatus, error) {
	rows, err := r.q.Query(ctx, `SELECT id, status FROM orders WHERE parent_id = $1 ORDER BY id`, parentOrderID)
	if err != nil {
		return nil, fmt.Errorf("query child orders: %w", err)
	}

	children, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ChildStatus, error) {
		var c domain.ChildStatus
		var status string
		err := row.Scan(&c.OrderID, &status)
		c.Status = domain.OrderStatus(status)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan child orders: %w", err)
	}
	return children, nil
}

func (r *orderRepository) UpdateOrder(ctx context.Context, order *domain.Order) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE orders
		SET paid_cents = $2, status = $3, version = $4, updated_at = $5
		WHERE id = $1
	`, order.ID, order.PaidCents, string(order.Status), order.Version, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOrderNotFoundError(order.ID)
	}
	return nil
}

func (r *orderRepository) ApplyPayment(ctx context.Context, rec *domain.OrderPaymentRecord) error {
	m := toPaymentModel(rec)
	_, err := r.q.Exec(ctx, `INSERT INTO order_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID, m.OrderID, m.Method, m.AmountCents, m.TipCents, m.ChangeGivenCents, m.RefundedAmountCents,
		m.AuthorizationRef, m.CardBrand, m.Last4, m.AuthCode, m.IdempotencyKey, m.IntentID, m.TerminalID,
		m.LocalID, m.IsOfflineCapture, m.VoidedAt, m.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewDuplicateKeyError(rec.IdempotencyKey)
		}
		return fmt.Errorf("insert order payment: %w", err)
	}
	return nil
}

// PaidTotal recomputes the paid total from the ledger rows.
func (r *orderRepository) PaidTotal(ctx context.Context, orderID string) (int64, error) {
	var total int64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents - refunded_amount_cents), 0)
		FROM order_payments
		WHERE order_id = $1 AND voided_at IS NULL
	`, orderID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum order payments: %w", err)
	}
	return total, nil
}

func (r *orderRepository) FindPayment(ctx context.Context, paymentID string) (*domain.OrderPaymentRecord, error) {
	return r.findPayment(ctx, `SELECT `+paymentColumns+` FROM order_payments WHERE id = $1`, paymentID)
}

func (r *orderRepository) LockPayment(ctx context.Context, paymentID string) (*domain.OrderPaymentRecord, error) {
	return r.findPayment(ctx, `SELECT `+paymentColumns+` FROM order_payments WHERE id = $1 FOR UPDATE`, paymentID)
}

func (r *orderRepository) FindPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.OrderPaymentRecord, error) {
	return r.findPayment(ctx, `SELECT `+paymentColumns+` FROM order_payments WHERE idempotency_key = $1`, key)
}

func (r *orderRepository) findPayment(ctx context.Context, query, arg string) (*domain.OrderPaymentRecord, error) {
	rec, err := scanPayment(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewPaymentNotFoundError(arg)
		}
		return nil, fmt.Errorf("find order payment: %w", err)
	}
	return rec, nil
}

func (r *orderRepository) UpdatePayment(ctx context.Context, rec *domain.OrderPaymentRecord) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE order_payments
		SET refunded_amount_cents = $2, voided_at = $3
		WHERE id = $1
	`, rec.ID, rec.RefundedAmountCents, rec.VoidedAt)
	if err != nil {
		return fmt.Errorf("update order payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewPaymentNotFoundError(rec.ID)
	}
	return nil
}

func (r *orderRepository) ListPayments(ctx context.Context, orderID string) ([]*domain.OrderPaymentRecord, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+paymentColumns+` FROM order_payments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order payments: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.OrderPaymentRecord, error) {
		return scanPayment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan order payments: %w", err)
	}
	return results, nil
}

func scanPayment(row pgx.Row) (*domain.OrderPaymentRecord, error) {
	var m PaymentModel
	err := row.Scan(
		&m.ID, &m.OrderID, &m.Method, &m.AmountCents, &m.TipCents, &m.ChangeGivenCents, &m.RefundedAmountCents,
		&m.AuthorizationRef, &m.CardBrand, &m.Last4, &m.AuthCode, &m.IdempotencyKey, &m.IntentID, &m.TerminalID,
		&m.LocalID, &m.IsOfflineCapture, &m.VoidedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return toDomainPayment(&m), nil
}
