package handlers

import (
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
)

func (h *Handlers) GetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.intentService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	rest.WriteJSON(w, http.StatusOK, rest.ToIntentResponse(intent), h.logger)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.paymentService.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	rest.WriteJSON(w, http.StatusOK, rest.ToOrderResponse(order), h.logger)
}

func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.paymentService.ListPayments(r.Context(), r.PathValue("id"))
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	rest.WriteJSON(w, http.StatusOK, rest.ToPaymentResponses(payments), h.logger)
}
