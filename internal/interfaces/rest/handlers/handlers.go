package handlers

import (
	"log/slog"
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
)

// Handlers serves the payment core API.
type Handlers struct {
	intentService   *services.IntentService
	paymentService  *services.PaymentService
	syncService     *services.SyncService
	terminalService *services.TerminalAdminService
	logger          *slog.Logger
}

func NewHandlers(
	intentService *services.IntentService,
	paymentService *services.PaymentService,
	syncService *services.SyncService,
	terminalService *services.TerminalAdminService,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		intentService:   intentService,
		paymentService:  paymentService,
		syncService:     syncService,
		terminalService: terminalService,
		logger:          logger,
	}
}

// Register mounts the API on mux. terminalAuth guards the sync endpoint.
func (h *Handlers) Register(mux *http.ServeMux, terminalAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /v1/intents", h.CreateIntent)
	mux.HandleFunc("GET /v1/intents/{id}", h.GetIntent)
	mux.HandleFunc("POST /v1/intents/{id}/authorize", h.AuthorizeIntent)
	mux.HandleFunc("POST /v1/intents/{id}/cancel", h.CancelIntent)

	mux.HandleFunc("POST /v1/orders", h.CreateOrder)
	mux.HandleFunc("GET /v1/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /v1/orders/{id}/payments", h.ListPayments)
	mux.HandleFunc("POST /v1/orders/{id}/payments", h.ApplyTender)

	mux.HandleFunc("POST /v1/payments/{id}/void", h.VoidPayment)
	mux.HandleFunc("POST /v1/payments/{id}/refund", h.RefundPayment)

	mux.HandleFunc("POST /v1/terminals/{id}/batch-close", h.BatchClose)

	mux.Handle("POST /payments/sync", terminalAuth(http.HandlerFunc(h.SyncOfflinePayment)))
}
