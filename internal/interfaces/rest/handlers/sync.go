package handlers

import (
	"fmt"
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest/middleware"
)

// SyncRequest is an offline payment as the terminal agent sends it.
type SyncRequest struct {
	LocalID string `json:"local_id"`
	domain.OfflinePayment
}

// SyncOfflinePayment may be called any number of times for the same key.
// The first call answers 201 and replays answer 200 with the same server ID.
func (h *Handlers) SyncOfflinePayment(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := rest.DecodeJSON(r, &req); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	if terminalID, ok := middleware.TerminalFromContext(r.Context()); ok && terminalID != req.TerminalID {
		err := fmt.Errorf("token for terminal %s cannot sync payments of %s", terminalID, req.TerminalID)
		rest.WriteError(w, application.NewUnauthorizedError(err), h.logger)
		return
	}

	result, err := h.syncService.Apply(r.Context(), services.SyncCommand{
		LocalID: req.LocalID,
		Payment: req.OfflinePayment,
	})
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	status := http.StatusCreated
	if result.Status == services.SyncStatusDuplicate {
		status = http.StatusOK
	}
	rest.WriteJSON(w, status, result, h.logger)
}
