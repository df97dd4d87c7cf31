package domain

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	MethodCash          PaymentMethod = "cash"
	MethodCard          PaymentMethod = "card"
	MethodGiftCard      PaymentMethod = "gift_card"
	MethodHouseAccount  PaymentMethod = "house_account"
	MethodLoyaltyPoints PaymentMethod = "loyalty_points"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodCash, MethodCard, MethodGiftCard, MethodHouseAccount, MethodLoyaltyPoints:
		return m, nil
	case "":
		return "", NewMissingRequiredFieldError("method")
	}
	return "", NewInvalidMethodError("unsupported payment method " + s)
}

// CardDetails is the processor data of a card payment. A record either
// carries all of it or none of it.
type CardDetails struct {
	AuthorizationRef string `json:"authorization_ref"`
	CardBrand        string `json:"card_brand"`
	Last4            string `json:"last4"`
	AuthCode         string `json:"auth_code"`
}

// NewCardDetails returns nil when every field is empty and an error when only
// some are present.
func NewCardDetails(authorizationRef, cardBrand, last4, authCode string) (*CardDetails, error) {
	fields := []string{authorizationRef, cardBrand, last4, authCode}

	present := 0
	for _, f := range fields {
		if f != "" {
			present++
		}
	}
	switch present {
	case 0:
		return nil, nil
	case len(fields):
	default:
		return nil, NewPartialCardDetailsError(
			"authorization ref, card brand, last4 and auth code must be provided together",
		)
	}

	if len(last4) != 4 || strings.Trim(last4, "0123456789") != "" {
		return nil, NewPartialCardDetailsError("last4 must be four digits")
	}

	return &CardDetails{
		AuthorizationRef: authorizationRef,
		CardBrand:        cardBrand,
		Last4:            last4,
		AuthCode:         authCode,
	}, nil
}

// OrderPaymentRecord is a tender applied to an order. Voided records stay in
// the ledger for audit.
type OrderPaymentRecord struct {
	ID                  string
	OrderID             string
	Method              PaymentMethod
	AmountCents         int64
	TipCents            int64
	ChangeGivenCents    int64
	RefundedAmountCents int64
	Card                *CardDetails
	IdempotencyKey      string
	IntentID            *string
	TerminalID          string
	LocalID             *string
	IsOfflineCapture    bool
	VoidedAt            *time.Time
	CreatedAt           time.Time
}

func NewOrderPaymentRecord(
	id, orderID string,
	method PaymentMethod,
	amountCents, tipCents, changeCents int64,
	card *CardDetails,
	idempotencyKey string,
) (*OrderPaymentRecord, error) {
	if id == "" {
		return nil, NewMissingRequiredFieldError("payment ID")
	}
	if orderID == "" {
		return nil, NewMissingRequiredFieldError("order ID")
	}
	if idempotencyKey == "" {
		return nil, NewMissingRequiredFieldError("idempotency key")
	}
	if amountCents <= 0 {
		return nil, NewAmountValidationError("payment amount must be greater than zero")
	}
	if tipCents < 0 || changeCents < 0 {
		return nil, NewAmountValidationError("tip and change cannot be negative")
	}

	switch {
	case method == MethodCard && card == nil:
		return nil, NewPartialCardDetailsError("card payments require card details")
	case method != MethodCard && card != nil:
		return nil, NewInvalidMethodError("card details are only valid on card payments")
	}

	return &OrderPaymentRecord{
		ID:               id,
		OrderID:          orderID,
		Method:           method,
		AmountCents:      amountCents,
		TipCents:         tipCents,
		ChangeGivenCents: changeCents,
		Card:             card,
		IdempotencyKey:   idempotencyKey,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

func (r *OrderPaymentRecord) IsVoided() bool {
	return r.VoidedAt != nil
}

// NetCents is what the record contributes to the order's paid total.
func (r *OrderPaymentRecord) NetCents() int64 {
	if r.IsVoided() {
		return 0
	}
	return r.AmountCents - r.RefundedAmountCents
}

func (r *OrderPaymentRecord) Void(at time.Time) error {
	if r.IsVoided() {
		return NewAlreadyVoidedError(r.ID)
	}
	at = at.UTC()
	r.VoidedAt = &at
	return nil
}

func (r *OrderPaymentRecord) Refund(amountCents int64) error {
	if r.IsVoided() {
		return NewAlreadyVoidedError(r.ID)
	}
	if amountCents <= 0 {
		return NewAmountValidationError("refund amount must be greater than zero")
	}
	refundable := r.AmountCents - r.RefundedAmountCents
	if amountCents > refundable {
		return NewRefundExceedsPaymentError(amountCents, refundable)
	}
	r.RefundedAmountCents += amountCents
	return nil
}

// PaidTotal sums the net contribution of every record.
func PaidTotal(records []*OrderPaymentRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.NetCents()
	}
	return total
}
