package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrStaleGeneration         = errors.New("intent changed since it was loaded")
	ErrIntentNotFound          = errors.New("payment intent not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderAlreadyPaid        = errors.New("order already paid")
	ErrOrderVoided             = errors.New("order voided")
	ErrPaymentNotFound         = errors.New("payment record not found")
	ErrAmountValidation        = errors.New("amount validation failed")
	ErrPartialCardDetails      = errors.New("partial card details")
	ErrInvalidMethod           = errors.New("invalid payment method")
	ErrMalformedIdempotencyKey = errors.New("malformed idempotency key")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrMissingRequiredField    = errors.New("missing required field")
	ErrPaymentAlreadyVoided    = errors.New("payment already voided")
	ErrRefundExceedsPayment    = errors.New("refund exceeds refundable amount")
	ErrReversalNotFound        = errors.New("reversal not found")
)

const (
	ErrCodeInvalidStateTransition  = "INVALID_STATE_TRANSITION"
	ErrCodeStateChanged            = "STATE_CHANGED"
	ErrCodeIntentNotFound          = "INTENT_NOT_FOUND"
	ErrCodeOrderNotFound           = "ORDER_NOT_FOUND"
	ErrCodeOrderAlreadyPaid        = "ORDER_ALREADY_PAID"
	ErrCodeOrderVoided             = "ORDER_VOIDED"
	ErrCodePaymentNotFound         = "PAYMENT_NOT_FOUND"
	ErrCodeAmountValidation        = "AMOUNT_VALIDATION"
	ErrCodePartialCardDetails      = "PARTIAL_CARD_DETAILS"
	ErrCodeInvalidMethod           = "INVALID_METHOD"
	ErrCodeMalformedIdempotencyKey = "MALFORMED_IDEMPOTENCY_KEY"
	ErrCodeDuplicateIdempotencyKey = "DUPLICATE_IDEMPOTENCY_KEY"
	ErrCodeMissingRequiredField    = "MISSING_REQUIRED_FIELD"
	ErrCodeAlreadyVoided           = "ALREADY_VOIDED"
	ErrCodeRefundExceedsPayment    = "REFUND_EXCEEDS_PAYMENT"
	ErrCodeReversalNotFound        = "REVERSAL_NOT_FOUND"
)

func NewInvalidTransitionError(from, to IntentState) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidStateTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Err:     ErrInvalidStateTransition,
	}
}

func NewStaleGenerationError(intentID string) *DomainError {
	return &DomainError{
		Code:    ErrCodeStateChanged,
		Message: fmt.Sprintf("intent %s changed concurrently, re-check its state", intentID),
		Err:     ErrStaleGeneration,
	}
}

func NewIntentNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeIntentNotFound,
		Message: fmt.Sprintf("payment intent %s not found", id),
		Err:     ErrIntentNotFound,
	}
}

func NewOrderNotFoundError(orderID string) *DomainError {
	return &DomainError{
		Code:    ErrCodeOrderNotFound,
		Message: fmt.Sprintf("order %s not found", orderID),
		Err:     ErrOrderNotFound,
	}
}

func NewOrderAlreadyPaidError(orderID string) *DomainError {
	return &DomainError{
		Code:    ErrCodeOrderAlreadyPaid,
		Message: fmt.Sprintf("order %s is already paid", orderID),
		Err:     ErrOrderAlreadyPaid,
	}
}

func NewOrderVoidedError(orderID string) *DomainError {
	return &DomainError{
		Code:    ErrCodeOrderVoided,
		Message: fmt.Sprintf("order %s is voided", orderID),
		Err:     ErrOrderVoided,
	}
}

func NewPaymentNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodePaymentNotFound,
		Message: fmt.Sprintf("payment %s not found", id),
		Err:     ErrPaymentNotFound,
	}
}

func NewAmountValidationError(reason string) *DomainError {
	return &DomainError{
		Code:    ErrCodeAmountValidation,
		Message: reason,
		Err:     ErrAmountValidation,
	}
}

func NewPartialCardDetailsError(reason string) *DomainError {
	return &DomainError{
		Code:    ErrCodePartialCardDetails,
		Message: reason,
		Err:     ErrPartialCardDetails,
	}
}

func NewInvalidMethodError(reason string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidMethod,
		Message: reason,
		Err:     ErrInvalidMethod,
	}
}

func NewMalformedIdempotencyKeyError(reason string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMalformedIdempotencyKey,
		Message: reason,
		Err:     ErrMalformedIdempotencyKey,
	}
}

func NewDuplicateKeyError(key string) *DomainError {
	return &DomainError{
		Code:    ErrCodeDuplicateIdempotencyKey,
		Message: fmt.Sprintf("idempotency key %s already exists", key),
		Err:     ErrDuplicateIdempotencyKey,
	}
}

func NewMissingRequiredFieldError(field string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMissingRequiredField,
		Message: fmt.Sprintf("%s is required", field),
		Err:     ErrMissingRequiredField,
	}
}

func NewAlreadyVoidedError(paymentID string) *DomainError {
	return &DomainError{
		Code:    ErrCodeAlreadyVoided,
		Message: fmt.Sprintf("payment %s is already voided", paymentID),
		Err:     ErrPaymentAlreadyVoided,
	}
}

func NewRefundExceedsPaymentError(requested, refundable int64) *DomainError {
	return &DomainError{
		Code:    ErrCodeRefundExceedsPayment,
		Message: fmt.Sprintf("refund of %d exceeds refundable amount %d", requested, refundable),
		Err:     ErrRefundExceedsPayment,
	}
}

func NewReversalNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeReversalNotFound,
		Message: fmt.Sprintf("reversal %s not found", id),
		Err:     ErrReversalNotFound,
	}
}

// IsErrorCode checks if an error is a DomainError with a specific code
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ErrorCode returns the code of the first DomainError in the chain, or "".
func ErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
