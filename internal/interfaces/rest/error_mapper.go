package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
)

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// BuildErrorResponse maps application errors to a status code and envelope.
func BuildErrorResponse(err error) (int, ErrorResponse) {
	resp := ErrorResponse{
		Error: ErrorDetail{
			Code:    application.ToErrorCode(err),
			Message: err.Error(),
		},
	}
	if svcErr, ok := application.IsServiceError(err); ok && len(svcErr.Details) > 0 {
		resp.Error.Details = svcErr.Details
	}
	return application.ToHTTPStatus(err), resp
}

// WriteError maps application errors to HTTP responses
func WriteError(w http.ResponseWriter, err error, logger *slog.Logger) {
	statusCode, response := BuildErrorResponse(err)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request failed", "code", response.Error.Code, "error", err)
	}
	writeBody(w, statusCode, response, logger)
}

func WriteJSON(w http.ResponseWriter, statusCode int, data any, logger *slog.Logger) {
	writeBody(w, statusCode, SuccessResponse{Success: true, Data: data}, logger)
}

func writeBody(w http.ResponseWriter, statusCode int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}
