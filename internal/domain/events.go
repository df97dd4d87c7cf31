package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventPaymentCompleted EventType = "payment.completed"
	EventOrderFullyPaid   EventType = "order.fully_paid"
	EventPaymentVoided    EventType = "payment.voided"
	EventPaymentRefunded  EventType = "payment.refunded"
)

// OutboxEvent is written in the same transaction as the ledger change it
// describes and published afterwards, at least once.
type OutboxEvent struct {
	ID          string
	Type        EventType
	AggregateID string
	Payload     json.RawMessage
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// PaymentEvent is the payload of the payment.* events.
type PaymentEvent struct {
	PaymentID        string        `json:"payment_id"`
	OrderID          string        `json:"order_id"`
	Method           PaymentMethod `json:"method"`
	AmountCents      int64         `json:"amount_cents"`
	TipCents         int64         `json:"tip_cents"`
	ChangeGivenCents int64         `json:"change_given_cents"`
	RefundedCents    int64         `json:"refunded_cents,omitempty"`
	IsOfflineCapture bool          `json:"is_offline_capture"`
}

// OrderEvent is the payload of order.fully_paid.
type OrderEvent struct {
	OrderID    string  `json:"order_id"`
	ParentID   *string `json:"parent_id,omitempty"`
	TotalCents int64   `json:"total_cents"`
	PaidCents  int64   `json:"paid_cents"`
}
