package application

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// APPLICATION-LEVEL ERRORS (Orchestration)

type ServiceError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

const (
	ErrCodeIdempotencyMismatch = "IDEMPOTENCY_MISMATCH"
	ErrCodeRequestProcessing   = "REQUEST_PROCESSING"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeStateChanged        = "STATE_CHANGED"
	ErrCodeTerminalFailure     = "TERMINAL_FAILURE"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
)

func NewIdempotencyMismatchError() *ServiceError {
	return &ServiceError{
		Code:       ErrCodeIdempotencyMismatch,
		Message:    "Idempotency key reused with different request parameters",
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

func NewRequestProcessingError(key string) *ServiceError {
	return &ServiceError{
		Code:       ErrCodeRequestProcessing,
		Message:    "Request is being processed. Please retry in a moment.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"idempotency_key": key, "retryable": "true"},
	}
}

func NewTimeoutError(operation string) *ServiceError {
	return &ServiceError{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("Timed out waiting for %s", operation),
		HTTPStatus: http.StatusRequestTimeout,
	}
}

func NewInternalError(err error) *ServiceError {
	return &ServiceError{
		Code:       ErrCodeInternal,
		Message:    "An internal error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewInvalidInputError(err error) *ServiceError {
	return &ServiceError{
		Code:       ErrCodeInvalidInput,
		Message:    "Invalid input",
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}

// NewStateChangedError tells the losing side of a race to re-read the intent.
func NewStateChangedError(err error) *ServiceError {
	return &ServiceError{
		Code:       ErrCodeStateChanged,
		Message:    "State changed, re-check the payment intent",
		HTTPStatus: http.StatusConflict,
		Err:        err,
	}
}

// NewTerminalFailureError wraps a classified terminal error. Retryable
// failures tell the caller which key to retry with.
func NewTerminalFailureError(termErr *TerminalError, idempotencyKey string) *ServiceError {
	status := http.StatusBadGateway
	switch termErr.Kind {
	case TerminalTimeout:
		status = http.StatusGatewayTimeout
	case TerminalDeviceBusy:
		status = http.StatusServiceUnavailable
	}

	details := map[string]string{
		"kind":      string(termErr.Kind),
		"retryable": strconv.FormatBool(termErr.Retryable),
	}
	if termErr.Retryable && idempotencyKey != "" {
		details["idempotency_key"] = idempotencyKey
	}

	return &ServiceError{
		Code:       ErrCodeTerminalFailure,
		Message:    "Payment terminal request failed",
		HTTPStatus: status,
		Details:    details,
		Err:        termErr,
	}
}

func NewUnauthorizedError(err error) *ServiceError {
	return &ServiceError{
		Code:       ErrCodeUnauthorized,
		Message:    "Unauthorized",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

func IsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	ok := errors.As(err, &svcErr)
	return svcErr, ok
}
