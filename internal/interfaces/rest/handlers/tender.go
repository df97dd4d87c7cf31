package handlers

import (
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
)

type CreateOrderRequest struct {
	OrderID  string  `json:"order_id"`
	ParentID *string `json:"parent_id,omitempty"`
	Total    string  `json:"total"`
}

type TenderRequest struct {
	TerminalID string              `json:"terminal_id"`
	Method     string              `json:"method"`
	Amount     string              `json:"amount"`
	Tip        string              `json:"tip,omitempty"`
	Card       *domain.CardDetails `json:"card,omitempty"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := rest.DecodeJSON(r, &req); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	total, err := domain.ParseAmount(req.Total)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	order, err := h.paymentService.CreateOrder(r.Context(), services.CreateOrderCommand{
		OrderID:    req.OrderID,
		ParentID:   req.ParentID,
		TotalCents: total,
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusCreated, rest.ToOrderResponse(order), h.logger)
}

// ApplyTender records a payment that needs no terminal round trip.
func (h *Handlers) ApplyTender(w http.ResponseWriter, r *http.Request) {
	var req TenderRequest
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
	method, err := domain.ParsePaymentMethod(req.Method)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	receipt, err := h.paymentService.ApplyTender(r.Context(), services.TenderCommand{
		OrderID:        r.PathValue("id"),
		TerminalID:     req.TerminalID,
		Method:         method,
		AmountCents:    amount,
		TipCents:       tip,
		Card:           req.Card,
		IdempotencyKey: r.Header.Get(rest.IdempotencyKeyHeader),
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	rest.WriteJSON(w, status, receipt, h.logger)
}
