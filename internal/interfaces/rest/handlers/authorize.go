package handlers

import (
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
)

type CreateIntentRequest struct {
	IntentID   string `json:"intent_id"`
	OrderID    string `json:"order_id"`
	TerminalID string `json:"terminal_id"`
	Amount     string `json:"amount"`
	Tip        string `json:"tip,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type AuthorizeIntentRequest struct {
	PromptTip bool `json:"prompt_tip"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := rest.DecodeJSON(r, &req); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	tip, err := rest.OptionalAmount(req.Tip)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	kind := domain.KindSale
	if req.Kind != "" {
		kind = domain.IntentKind(req.Kind)
	}

	intent, err := h.intentService.Create(r.Context(), services.CreateIntentCommand{
		IntentID:    req.IntentID,
		OrderID:     req.OrderID,
		TerminalID:  req.TerminalID,
		AmountCents: amount,
		TipCents:    tip,
		Kind:        kind,
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusCreated, rest.ToIntentResponse(intent), h.logger)
}

// AuthorizeIntent blocks until the terminal answers. A decline is a
// successful response with the intent in the failed state.
func (h *Handlers) AuthorizeIntent(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeIntentRequest
	if err := rest.DecodeJSON(r, &req); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	intent, err := h.intentService.Authorize(r.Context(), services.AuthorizeCommand{
		IntentID:       r.PathValue("id"),
		IdempotencyKey: r.Header.Get(rest.IdempotencyKeyHeader),
		PromptTip:      req.PromptTip,
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	if intent.IdempotencyKey != "" {
		w.Header().Set(rest.IdempotencyKeyHeader, intent.IdempotencyKey)
	}
	rest.WriteJSON(w, http.StatusOK, rest.ToIntentResponse(intent), h.logger)
}

func (h *Handlers) CancelIntent(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := rest.DecodeJSON(r, &req); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	intent, err := h.intentService.Cancel(r.Context(), services.CancelIntentCommand{
		IntentID: r.PathValue("id"),
		Reason:   req.Reason,
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.ToIntentResponse(intent), h.logger)
}
