package domain

import (
	"fmt"
	"time"
)

type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSyncing QueueStatus = "syncing"
	QueueSynced  QueueStatus = "synced"
	QueueFailed  QueueStatus = "failed"
)

// OfflinePayment is a tender captured on a terminal while the server was
// unreachable. It travels to the server unchanged.
type OfflinePayment struct {
	IdempotencyKey string        `json:"idempotency_key"`
	OrderID        string        `json:"order_id"`
	TerminalID     string        `json:"terminal_id"`
	Method         PaymentMethod `json:"method"`
	AmountCents    int64         `json:"amount_cents"`
	TipCents       int64         `json:"tip_cents"`
	Card           *CardDetails  `json:"card,omitempty"`
	CapturedAt     time.Time     `json:"captured_at"`
}

func (p *OfflinePayment) Validate() error {
	if p.OrderID == "" {
		return NewMissingRequiredFieldError("order ID")
	}
	if p.TerminalID == "" {
		return NewMissingRequiredFieldError("terminal ID")
	}
	if _, err := ParsePaymentMethod(string(p.Method)); err != nil {
		return err
	}
	if p.AmountCents <= 0 {
		return NewAmountValidationError("amount must be greater than zero")
	}
	if p.TipCents < 0 {
		return NewAmountValidationError("tip cannot be negative")
	}
	if p.Method == MethodCard && p.Card == nil {
		return NewPartialCardDetailsError("card payments require card details")
	}
	if p.Method != MethodCard && p.Card != nil {
		return NewInvalidMethodError("card details are only valid on card payments")
	}
	if p.Card != nil {
		if _, err := NewCardDetails(p.Card.AuthorizationRef, p.Card.CardBrand, p.Card.Last4, p.Card.AuthCode); err != nil {
			return err
		}
	}
	return nil
}

// OfflineQueueEntry is the durable local copy of an OfflinePayment.
type OfflineQueueEntry struct {
	LocalID        string
	IdempotencyKey string
	OrderID        string
	Seq            int64
	Payment        OfflinePayment
	Attempts       int
	Deferrals      int
	NextRetryAt    time.Time
	Status         QueueStatus
	LastError      *string
	ServerID       *string
	CreatedAt      time.Time
}

// LocalPaymentID renders the terminal-prefixed local identifier, e.g. T3-001.
func LocalPaymentID(terminalID string, seq int64) string {
	return fmt.Sprintf("%s-%03d", terminalID, seq)
}

// SyncReceipt links a local payment to the server record it became.
type SyncReceipt struct {
	LocalID        string
	IdempotencyKey string
	OrderID        string
	ServerID       string
	SyncedAt       time.Time
}
