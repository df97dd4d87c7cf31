package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

// DecodeJSON reads a JSON body into dst, rejecting unknown fields. An empty
// body leaves dst untouched.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return application.NewInvalidInputError(fmt.Errorf("decode request body: %w", err))
	}
	return nil
}

// OptionalAmount parses s, treating an empty string as zero.
func OptionalAmount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return domain.ParseAmount(s)
}

type AuthorizationDTO struct {
	Approved        bool    `json:"approved"`
	ResponseCode    string  `json:"response_code"`
	AuthCode        string  `json:"auth_code,omitempty"`
	ReferenceNumber string  `json:"reference_number,omitempty"`
	CardBrand       string  `json:"card_brand,omitempty"`
	Last4           string  `json:"last4,omitempty"`
	EntryMethod     string  `json:"entry_method,omitempty"`
	DeclineReason   *string `json:"decline_reason,omitempty"`
}

type IntentResponse struct {
	ID                string                `json:"id"`
	OrderID           string                `json:"order_id"`
	TerminalID        string                `json:"terminal_id"`
	Kind              domain.IntentKind     `json:"kind"`
	State             domain.IntentState    `json:"state"`
	Amount            string                `json:"amount"`
	AmountCents       int64                 `json:"amount_cents"`
	TipCents          int64                 `json:"tip_cents"`
	IdempotencyKey    string                `json:"idempotency_key,omitempty"`
	SignatureCaptured bool                  `json:"signature_captured"`
	Authorization     *AuthorizationDTO     `json:"authorization,omitempty"`
	PaymentID         *string               `json:"payment_id,omitempty"`
	AttemptCount      int                   `json:"attempt_count"`
	NextRetryAt       *time.Time            `json:"next_retry_at,omitempty"`
	History           []domain.StatusChange `json:"history"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func ToIntentResponse(i *domain.PaymentIntent) IntentResponse {
	resp := IntentResponse{
		ID:                i.ID,
		OrderID:           i.OrderID,
		TerminalID:        i.TerminalID,
		Kind:              i.Kind,
		State:             i.State,
		Amount:            domain.FormatCents(i.AmountCents),
		AmountCents:       i.AmountCents,
		TipCents:          i.TipCents,
		IdempotencyKey:    i.IdempotencyKey,
		SignatureCaptured: i.SignatureCaptured,
		PaymentID:         i.PaymentID,
		AttemptCount:      i.AttemptCount,
		NextRetryAt:       i.NextRetryAt,
		History:           i.History,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
	if resp.History == nil {
		resp.History = []domain.StatusChange{}
	}
	if a := i.Authorization; a != nil {
		resp.Authorization = &AuthorizationDTO{
			Approved:        a.Success,
			ResponseCode:    a.ResponseCode,
			AuthCode:        a.AuthCode,
			ReferenceNumber: a.ReferenceNumber,
			CardBrand:       a.CardBrand,
			Last4:           a.Last4,
			EntryMethod:     a.EntryMethod,
			DeclineReason:   a.DeclineReason,
		}
	}
	return resp
}

type OrderResponse struct {
	ID               string             `json:"id"`
	ParentID         *string            `json:"parent_id,omitempty"`
	Status           domain.OrderStatus `json:"status"`
	Total            string             `json:"total"`
	TotalCents       int64              `json:"total_cents"`
	PaidCents        int64              `json:"paid_cents"`
	OutstandingCents int64              `json:"outstanding_cents"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func ToOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:               o.ID,
		ParentID:         o.ParentID,
		Status:           o.Status,
		Total:            domain.FormatCents(o.TotalCents),
		TotalCents:       o.TotalCents,
		PaidCents:        o.PaidCents,
		OutstandingCents: o.OutstandingCents(),
		UpdatedAt:        o.UpdatedAt,
	}
}

type PaymentResponse struct {
	ID                  string               `json:"id"`
	OrderID             string               `json:"order_id"`
	Method              domain.PaymentMethod `json:"method"`
	Amount              string               `json:"amount"`
	AmountCents         int64                `json:"amount_cents"`
	TipCents            int64                `json:"tip_cents"`
	ChangeGivenCents    int64                `json:"change_given_cents"`
	RefundedAmountCents int64                `json:"refunded_amount_cents"`
	Card                *domain.CardDetails  `json:"card,omitempty"`
	TerminalID          string               `json:"terminal_id"`
	IntentID            *string              `json:"intent_id,omitempty"`
	LocalID             *string              `json:"local_id,omitempty"`
	IsOfflineCapture    bool                 `json:"is_offline_capture"`
	VoidedAt            *time.Time           `json:"voided_at,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

func ToPaymentResponse(p *domain.OrderPaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:                  p.ID,
		OrderID:             p.OrderID,
		Method:              p.Method,
		Amount:              domain.FormatCents(p.AmountCents),
		AmountCents:         p.AmountCents,
		TipCents:            p.TipCents,
		ChangeGivenCents:    p.ChangeGivenCents,
		RefundedAmountCents: p.RefundedAmountCents,
		Card:                p.Card,
		TerminalID:          p.TerminalID,
		IntentID:            p.IntentID,
		LocalID:             p.LocalID,
		IsOfflineCapture:    p.IsOfflineCapture,
		VoidedAt:            p.VoidedAt,
		CreatedAt:           p.CreatedAt,
	}
}

func ToPaymentResponses(records []*domain.OrderPaymentRecord) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(records))
	for _, r := range records {
		out = append(out, ToPaymentResponse(r))
	}
	return out
}
