package handlers

import (
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
)

func (h *Handlers) VoidPayment(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := rest.DecodeJSON(r, &req); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	payment, err := h.paymentService.VoidPayment(r.Context(), services.VoidPaymentCommand{
		PaymentID:      r.PathValue("id"),
		Reason:         req.Reason,
		IdempotencyKey: r.Header.Get(rest.IdempotencyKeyHeader),
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.ToPaymentResponse(payment), h.logger)
}
