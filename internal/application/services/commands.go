package services

import "github.com/DanielPopoola/ficmart-pos-payments/internal/domain"

type CreateIntentCommand struct {
	IntentID    string
	OrderID     string
	TerminalID  string
	AmountCents int64
	TipCents    int64
	Kind        domain.IntentKind
}

// AuthorizeCommand drives an intent against its terminal. IdempotencyKey is
// optional on the first call; retries must send the key they were given.
type AuthorizeCommand struct {
	IntentID       string
	IdempotencyKey string
	PromptTip      bool
}

type CancelIntentCommand struct {
	IntentID string
	Reason   string
}

type CreateOrderCommand struct {
	OrderID    string
	ParentID   *string
	TotalCents int64
}

// TenderCommand applies a payment that needs no terminal round trip, such as
// cash or a gift card.
type TenderCommand struct {
	OrderID        string
	TerminalID     string
	Method         domain.PaymentMethod
	AmountCents    int64
	TipCents       int64
	Card           *domain.CardDetails
	IdempotencyKey string
}

type VoidPaymentCommand struct {
	PaymentID      string
	Reason         string
	IdempotencyKey string
}

type RefundPaymentCommand struct {
	PaymentID      string
	AmountCents    int64
	IdempotencyKey string
}

// SyncCommand is one offline payment replayed by a terminal agent.
type SyncCommand struct {
	LocalID string
	Payment domain.OfflinePayment
}
