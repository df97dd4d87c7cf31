package postgres

import (
	"time"
)

// IntentModel is the payment_intents row. History and the authorization
// result are stored as JSONB.
type IntentModel struct {
	ID                  string
	IdempotencyKey      *string
	OrderID             string
	TerminalID          string
	AmountCents         int64
	TipCents            int64
	Kind                string
	State               string
	History             []byte
	Generation          int64
	IsOfflineCapture    bool
	SignatureCaptured   bool
	Authorization       []byte
	CapturedAt          *time.Time
	PaymentID           *string
	NeedsReconciliation bool
	AttemptCount        int
	NextRetryAt         *time.Time
	LastErrorCategory   *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PaymentModel is the order_payments row. The card columns are all NULL or
// all set.
type PaymentModel struct {
	ID                  string
	OrderID             string
	Method              string
	AmountCents         int64
	TipCents            int64
	ChangeGivenCents    int64
	RefundedAmountCents int64
	AuthorizationRef    *string
	CardBrand           *string
	Last4               *string
	AuthCode            *string
	IdempotencyKey      string
	IntentID            *string
	TerminalID          string
	LocalID             *string
	IsOfflineCapture    bool
	VoidedAt            *time.Time
	CreatedAt           time.Time
}
