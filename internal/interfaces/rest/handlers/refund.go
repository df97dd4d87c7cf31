package handlers

import (
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
)

type RefundRequest struct {
	Amount string `json:"amount"`
}

func (h *Handlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := rest.DecodeJSON(r, &req); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	payment, err := h.paymentService.RefundPayment(r.Context(), services.RefundPaymentCommand{
		PaymentID:      r.PathValue("id"),
		AmountCents:    amount,
		IdempotencyKey: r.Header.Get(rest.IdempotencyKeyHeader),
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.ToPaymentResponse(payment), h.logger)
}
