package application

import (
	"context"
	"errors"
	"net/http"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

// ErrorCategory represents the nature of an error for retry logic
type ErrorCategory string

const (
	CategoryTransient      ErrorCategory = "TRANSIENT"
	CategoryPermanent      ErrorCategory = "PERMANENT"
	CategoryBusinessRule   ErrorCategory = "BUSINESS_RULE"
	CategoryClientError    ErrorCategory = "CLIENT_ERROR"
	CategoryConflict       ErrorCategory = "CONFLICT"
	CategoryInfrastructure ErrorCategory = "INFRASTRUCTURE"
)

// CategorizeError determines error category for retry and logging purposes
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransient
	}

	// Terminal errors are classified at the client boundary.
	if termErr, ok := IsTerminalError(err); ok {
		if termErr.Retryable {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	switch {
	case errors.Is(err, domain.ErrStaleGeneration):
		return CategoryConflict
	case errors.Is(err, domain.ErrAmountValidation),
		errors.Is(err, domain.ErrOrderAlreadyPaid),
		errors.Is(err, domain.ErrOrderVoided),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrPaymentAlreadyVoided),
		errors.Is(err, domain.ErrRefundExceedsPayment):
		return CategoryBusinessRule
	case errors.Is(err, domain.ErrIntentNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrMissingRequiredField),
		errors.Is(err, domain.ErrPartialCardDetails),
		errors.Is(err, domain.ErrInvalidMethod),
		errors.Is(err, domain.ErrMalformedIdempotencyKey):
		return CategoryClientError
	}

	if svcErr, ok := IsServiceError(err); ok {
		switch svcErr.Code {
		case ErrCodeIdempotencyMismatch, ErrCodeInvalidInput, ErrCodeUnauthorized:
			return CategoryClientError
		case ErrCodeStateChanged:
			return CategoryConflict
		case ErrCodeInternal:
			return CategoryInfrastructure
		case ErrCodeRequestProcessing, ErrCodeTimeout:
			return CategoryTransient
		}
	}

	return CategoryInfrastructure
}

// IsRetryable returns true if the error category suggests retry
func IsRetryable(err error) bool {
	category := CategorizeError(err)
	return category == CategoryTransient || category == CategoryInfrastructure
}

// ToHTTPStatus maps error to appropriate HTTP status code
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	if svcErr, ok := IsServiceError(err); ok {
		return svcErr.HTTPStatus
	}

	switch {
	case errors.Is(err, domain.ErrAmountValidation),
		errors.Is(err, domain.ErrMissingRequiredField),
		errors.Is(err, domain.ErrPartialCardDetails),
		errors.Is(err, domain.ErrInvalidMethod),
		errors.Is(err, domain.ErrMalformedIdempotencyKey):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrIntentNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrStaleGeneration),
		errors.Is(err, domain.ErrOrderAlreadyPaid),
		errors.Is(err, domain.ErrOrderVoided),
		errors.Is(err, domain.ErrPaymentAlreadyVoided),
		errors.Is(err, domain.ErrRefundExceedsPayment),
		errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	if termErr, ok := IsTerminalError(err); ok {
		return NewTerminalFailureError(termErr, "").HTTPStatus
	}

	return http.StatusInternalServerError
}

// ToErrorCode clear error code for API responses
func ToErrorCode(err error) string {
	if svcErr, ok := IsServiceError(err); ok {
		return svcErr.Code
	}
	if code := domain.ErrorCode(err); code != "" {
		return code
	}
	if _, ok := IsTerminalError(err); ok {
		return ErrCodeTerminalFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}
