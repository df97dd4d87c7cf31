package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/offline"
)

// Syncer runs one pass of the offline sync worker on demand.
type Syncer interface {
	RunOnce(ctx context.Context) (offline.SyncStats, error)
}

// AgentHandlers serves the terminal agent's local capture API.
type AgentHandlers struct {
	queue  *offline.Queue
	syncer Syncer
	logger *slog.Logger
}

func NewAgentHandlers(queue *offline.Queue, syncer Syncer, logger *slog.Logger) *AgentHandlers {
	return &AgentHandlers{queue: queue, syncer: syncer, logger: logger}
}

func (h *AgentHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/offline/payments", h.CapturePayment)
	mux.HandleFunc("GET /v1/offline/payments/{id}", h.GetPayment)
	mux.HandleFunc("POST /v1/offline/payments/{id}/requeue", h.RequeuePayment)
	mux.HandleFunc("GET /v1/offline/queue", h.ListQueue)
	mux.HandleFunc("POST /v1/offline/sync", h.SyncNow)
}

type CaptureRequest struct {
	OrderID        string              `json:"order_id"`
	Method         string              `json:"method"`
	Amount         string              `json:"amount"`
	Tip            string              `json:"tip,omitempty"`
	Card           *domain.CardDetails `json:"card,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

type QueueEntryResponse struct {
	LocalID        string               `json:"local_id"`
	IdempotencyKey string               `json:"idempotency_key"`
	OrderID        string               `json:"order_id"`
	Status         domain.QueueStatus   `json:"status"`
	Method         domain.PaymentMethod `json:"method,omitempty"`
	AmountCents    int64                `json:"amount_cents,omitempty"`
	Attempts       int                  `json:"attempts"`
	Deferrals      int                  `json:"deferrals"`
	NextRetryAt    *time.Time           `json:"next_retry_at,omitempty"`
	LastError      *string              `json:"last_error,omitempty"`
	ServerID       *string              `json:"server_id,omitempty"`
}

func toQueueEntryResponse(e *domain.OfflineQueueEntry) QueueEntryResponse {
	resp := QueueEntryResponse{
		LocalID:        e.LocalID,
		IdempotencyKey: e.IdempotencyKey,
		OrderID:        e.OrderID,
		Status:         e.Status,
		Method:         e.Payment.Method,
		AmountCents:    e.Payment.AmountCents,
		Attempts:       e.Attempts,
		Deferrals:      e.Deferrals,
		LastError:      e.LastError,
		ServerID:       e.ServerID,
	}
	if !e.NextRetryAt.IsZero() {
		next := e.NextRetryAt
		resp.NextRetryAt = &next
	}
	return resp
}

// CapturePayment stores the payment locally. Once it answers 201 the tender
// is durable and will reach the server eventually.
func (h *AgentHandlers) CapturePayment(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
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

	entry, err := h.queue.Capture(r.Context(), domain.OfflinePayment{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        req.OrderID,
		TerminalID:     h.queue.TerminalID(),
		Method:         method,
		AmountCents:    amount,
		TipCents:       tip,
		Card:           req.Card,
	})
	if err != nil {
		rest.WriteError(w, agentError(err), h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusCreated, toQueueEntryResponse(entry), h.logger)
}

// GetPayment answers from the queue, or from the sync receipt once the
// entry has been acknowledged by the server.
func (h *AgentHandlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	localID := r.PathValue("id")

	entry, err := h.queue.Get(r.Context(), localID)
	if err == nil {
		rest.WriteJSON(w, http.StatusOK, toQueueEntryResponse(entry), h.logger)
		return
	}
	if !errors.Is(err, offline.ErrEntryNotFound) {
		rest.WriteError(w, agentError(err), h.logger)
		return
	}

	receipt, err := h.queue.Receipt(r.Context(), localID)
	if err != nil {
		rest.WriteError(w, agentError(err), h.logger)
		return
	}
	serverID := receipt.ServerID
	rest.WriteJSON(w, http.StatusOK, QueueEntryResponse{
		LocalID:        receipt.LocalID,
		IdempotencyKey: receipt.IdempotencyKey,
		OrderID:        receipt.OrderID,
		Status:         domain.QueueSynced,
		ServerID:       &serverID,
	}, h.logger)
}

func (h *AgentHandlers) RequeuePayment(w http.ResponseWriter, r *http.Request) {
	localID := r.PathValue("id")
	if err := h.queue.Requeue(r.Context(), localID); err != nil {
		rest.WriteError(w, agentError(err), h.logger)
		return
	}
	entry, err := h.queue.Get(r.Context(), localID)
	if err != nil {
		rest.WriteError(w, agentError(err), h.logger)
		return
	}
	h.logger.Info("offline payment requeued", "local_id", localID)
	rest.WriteJSON(w, http.StatusOK, toQueueEntryResponse(entry), h.logger)
}

func (h *AgentHandlers) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := domain.QueueStatus(r.URL.Query().Get("status"))
	entries, err := h.queue.List(r.Context(), status)
	if err != nil {
		rest.WriteError(w, agentError(err), h.logger)
		return
	}
	out := make([]QueueEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toQueueEntryResponse(e))
	}
	rest.WriteJSON(w, http.StatusOK, out, h.logger)
}

// SyncNow runs a sync pass immediately instead of waiting for the ticker.
func (h *AgentHandlers) SyncNow(w http.ResponseWriter, r *http.Request) {
	stats, err := h.syncer.RunOnce(r.Context())
	if err != nil {
		rest.WriteError(w, agentError(err), h.logger)
		return
	}
	rest.WriteJSON(w, http.StatusOK, map[string]int{
		"synced":   stats.Synced,
		"retried":  stats.Retried,
		"deferred": stats.Deferred,
		"failed":   stats.Failed,
	}, h.logger)
}

// agentError gives queue errors the status codes of the server API.
func agentError(err error) error {
	switch {
	case errors.Is(err, offline.ErrEntryNotFound), errors.Is(err, offline.ErrReceiptNotFound):
		return &application.ServiceError{
			Code:       "ENTRY_NOT_FOUND",
			Message:    "offline payment not found",
			HTTPStatus: http.StatusNotFound,
			Err:        err,
		}
	case errors.Is(err, offline.ErrTerminalMismatch):
		return application.NewInvalidInputError(err)
	default:
		return err
	}
}
