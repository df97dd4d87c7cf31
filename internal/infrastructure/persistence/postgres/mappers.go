package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

// toIntentModel: maps domain intent to db model
func toIntentModel(i *domain.PaymentIntent) (*IntentModel, error) {
	history := i.History
	if history == nil {
		history = []domain.StatusChange{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal intent history: %w", err)
	}

	var authJSON []byte
	if i.Authorization != nil {
		authJSON, err = json.Marshal(i.Authorization)
		if err != nil {
			return nil, fmt.Errorf("marshal authorization result: %w", err)
		}
	}

	var key *string
	if i.IdempotencyKey != "" {
		key = &i.IdempotencyKey
	}

	return &IntentModel{
		ID:                  i.ID,
		IdempotencyKey:      key,
		OrderID:             i.OrderID,
		TerminalID:          i.TerminalID,
		AmountCents:         i.AmountCents,
		TipCents:            i.TipCents,
		Kind:                string(i.Kind),
		State:               string(i.State),
		History:             historyJSON,
		Generation:          i.Generation,
		IsOfflineCapture:    i.IsOfflineCapture,
		SignatureCaptured:   i.SignatureCaptured,
		Authorization:       authJSON,
		CapturedAt:          i.CapturedAt,
		PaymentID:           i.PaymentID,
		NeedsReconciliation: i.NeedsReconciliation,
		AttemptCount:        i.AttemptCount,
		NextRetryAt:         i.NextRetryAt,
		LastErrorCategory:   i.LastErrorCategory,
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}, nil
}

// toDomainIntent: maps db model to domain intent, marked as persisted
func toDomainIntent(m *IntentModel) (*domain.PaymentIntent, error) {
	intent := &domain.PaymentIntent{
		ID:                  m.ID,
		OrderID:             m.OrderID,
		TerminalID:          m.TerminalID,
		AmountCents:         m.AmountCents,
		TipCents:            m.TipCents,
		Kind:                domain.IntentKind(m.Kind),
		State:               domain.IntentState(m.State),
		Generation:          m.Generation,
		IsOfflineCapture:    m.IsOfflineCapture,
		SignatureCaptured:   m.SignatureCaptured,
		CapturedAt:          m.CapturedAt,
		PaymentID:           m.PaymentID,
		NeedsReconciliation: m.NeedsReconciliation,
		AttemptCount:        m.AttemptCount,
		NextRetryAt:         m.NextRetryAt,
		LastErrorCategory:   m.LastErrorCategory,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if m.IdempotencyKey != nil {
		intent.IdempotencyKey = *m.IdempotencyKey
	}

	if len(m.History) > 0 {
		if err := json.Unmarshal(m.History, &intent.History); err != nil {
			return nil, fmt.Errorf("unmarshal intent history: %w", err)
		}
	}
	if len(m.Authorization) > 0 {
		var auth domain.AuthorizationResult
		if err := json.Unmarshal(m.Authorization, &auth); err != nil {
			return nil, fmt.Errorf("unmarshal authorization result: %w", err)
		}
		intent.Authorization = &auth
	}

	intent.MarkPersisted()
	return intent, nil
}

func toPaymentModel(r *domain.OrderPaymentRecord) *PaymentModel {
	m := &PaymentModel{
		ID:                  r.ID,
		OrderID:             r.OrderID,
		Method:              string(r.Method),
		AmountCents:         r.AmountCents,
		TipCents:            r.TipCents,
		ChangeGivenCents:    r.ChangeGivenCents,
		RefundedAmountCents: r.RefundedAmountCents,
		IdempotencyKey:      r.IdempotencyKey,
		IntentID:            r.IntentID,
		TerminalID:          r.TerminalID,
		LocalID:             r.LocalID,
		IsOfflineCapture:    r.IsOfflineCapture,
		VoidedAt:            r.VoidedAt,
		CreatedAt:           r.CreatedAt,
	}
	if r.Card != nil {
		m.AuthorizationRef = &r.Card.AuthorizationRef
		m.CardBrand = &r.Card.CardBrand
		m.Last4 = &r.Card.Last4
		m.AuthCode = &r.Card.AuthCode
	}
	return m
}

func toDomainPayment(m *PaymentModel) *domain.OrderPaymentRecord {
	r := &domain.OrderPaymentRecord{
		ID:                  m.ID,
		OrderID:             m.OrderID,
		Method:              domain.PaymentMethod(m.Method),
		AmountCents:         m.AmountCents,
		TipCents:            m.TipCents,
		ChangeGivenCents:    m.ChangeGivenCents,
		RefundedAmountCents: m.RefundedAmountCents,
		IdempotencyKey:      m.IdempotencyKey,
		IntentID:            m.IntentID,
		TerminalID:          m.TerminalID,
		LocalID:             m.LocalID,
		IsOfflineCapture:    m.IsOfflineCapture,
		VoidedAt:            m.VoidedAt,
		CreatedAt:           m.CreatedAt,
	}
	if m.AuthorizationRef != nil {
		r.Card = &domain.CardDetails{
			AuthorizationRef: deref(m.AuthorizationRef),
			CardBrand:        deref(m.CardBrand),
			Last4:            deref(m.Last4),
			AuthCode:         deref(m.AuthCode),
		}
	}
	return r
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
