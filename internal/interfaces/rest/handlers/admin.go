package handlers

import (
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
)

type BatchCloseResponse struct {
	TerminalID   string `json:"terminal_id"`
	ResponseCode string `json:"response_code"`
	Message      string `json:"message,omitempty"`
}

func (h *Handlers) BatchClose(w http.ResponseWriter, r *http.Request) {
	terminalID := r.PathValue("id")
	result, err := h.terminalService.BatchClose(r.Context(), terminalID)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusOK, BatchCloseResponse{
		TerminalID:   terminalID,
		ResponseCode: result.ResponseCode,
		Message:      result.Message,
	}, h.logger)
}
