package domain

import "time"

type OrderStatus string

const (
	OrderOpen          OrderStatus = "open"
	OrderPartiallyPaid OrderStatus = "partially_paid"
	OrderPaid          OrderStatus = "paid"
	OrderVoided        OrderStatus = "voided"
	OrderCancelled     OrderStatus = "cancelled"
)

// Order is the ledger view of an order. Totals come from the order system;
// this core only moves PaidCents and Status.
type Order struct {
	ID         string
	ParentID   *string
	TotalCents int64
	PaidCents  int64
	Status     OrderStatus
	Version    int64
	UpdatedAt  time.Time
}

func NewOrder(id string, parentID *string, totalCents int64) (*Order, error) {
	if id == "" {
		return nil, NewMissingRequiredFieldError("order ID")
	}
	if parentID != nil && *parentID == id {
		return nil, NewInvalidMethodError("an order cannot be its own parent")
	}
	if totalCents <= 0 {
		return nil, NewAmountValidationError("order total must be greater than zero")
	}
	return &Order{
		ID:         id,
		ParentID:   parentID,
		TotalCents: totalCents,
		Status:     OrderOpen,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func (o *Order) OutstandingCents() int64 {
	if o.PaidCents >= o.TotalCents {
		return 0
	}
	return o.TotalCents - o.PaidCents
}

func (o *Order) IsClosed() bool {
	return o.Status == OrderVoided || o.Status == OrderCancelled
}

// CheckPayable rejects tenders against orders that cannot take more money.
func (o *Order) CheckPayable() error {
	if o.IsClosed() {
		return NewOrderVoidedError(o.ID)
	}
	if o.Status == OrderPaid || o.OutstandingCents() == 0 {
		return NewOrderAlreadyPaidError(o.ID)
	}
	return nil
}

// SetPaidTotal stores a recomputed paid total and derives the status from it.
// A shortfall of at most toleranceCents counts as fully paid. It reports
// whether the order just became fully paid.
func (o *Order) SetPaidTotal(paidCents, toleranceCents int64) (becamePaid bool) {
	wasPaid := o.Status == OrderPaid
	o.PaidCents = paidCents

	if !o.IsClosed() {
		switch {
		case paidCents > 0 && paidCents >= o.TotalCents-toleranceCents:
			o.Status = OrderPaid
		case paidCents > 0:
			o.Status = OrderPartiallyPaid
		default:
			o.Status = OrderOpen
		}
	}

	o.Version++
	o.UpdatedAt = time.Now().UTC()
	return !wasPaid && o.Status == OrderPaid
}

// MarkPaid finalizes a parent order whose children are settled.
func (o *Order) MarkPaid() bool {
	if o.Status == OrderPaid || o.IsClosed() {
		return false
	}
	o.Status = OrderPaid
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	return true
}

// Reopen returns a paid parent to partially paid after one of its children
// lost a payment.
func (o *Order) Reopen() bool {
	if o.Status != OrderPaid {
		return false
	}
	o.Status = OrderPartiallyPaid
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	return true
}

// ChildStatus is a split child as seen from its parent.
type ChildStatus struct {
	OrderID string
	Status  OrderStatus
}

// ChildrenSettled reports whether every live child is paid. Voided and
// cancelled children owe nothing and are skipped.
func ChildrenSettled(children []ChildStatus) bool {
	live := 0
	for _, c := range children {
		if c.Status == OrderVoided || c.Status == OrderCancelled {
			continue
		}
		if c.Status != OrderPaid {
			return false
		}
		live++
	}
	return live > 0
}
