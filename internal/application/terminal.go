package application

import (
	"errors"
	"fmt"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

// RequestType is a terminal command.
type RequestType string

const (
	RequestSale            RequestType = "sale"
	RequestPreAuth         RequestType = "preauth"
	RequestIncrementalAuth RequestType = "incremental_auth"
	RequestCapture         RequestType = "capture"
	RequestVoid            RequestType = "void"
	RequestRefund          RequestType = "refund"
	RequestBatchClose      RequestType = "batch_close"
	RequestGetSignature    RequestType = "get_signature"
	RequestGetTip          RequestType = "get_tip"
	RequestStatusCheck     RequestType = "status_check"
)

// ResponseCodeNotFound is returned by a status check when the terminal has no
// transaction for the reference.
const ResponseCodeNotFound = "NOT_FOUND"

// MovesMoney reports request types that must carry a positive amount.
func (t RequestType) MovesMoney() bool {
	switch t {
	case RequestSale, RequestPreAuth, RequestIncrementalAuth, RequestCapture, RequestRefund:
		return true
	}
	return false
}

// TerminalRequest is one command for a physical terminal. Reference must be
// identical on every retry so the device can deduplicate. Sales use the
// intent's idempotency key; voids and refunds use their reversal's own
// reference.
type TerminalRequest struct {
	Type        RequestType
	TerminalID  string
	Reference   string
	RecordNo    string
	InvoiceNo   string
	AmountCents int64
	TipCents    int64
}

func (r TerminalRequest) Validate() error {
	if r.TerminalID == "" {
		return domain.NewMissingRequiredFieldError("terminal ID")
	}
	if r.Type.MovesMoney() && r.AmountCents <= 0 {
		return domain.NewAmountValidationError(fmt.Sprintf("%s amount must be greater than zero", r.Type))
	}
	switch r.Type {
	case RequestSale, RequestPreAuth, RequestStatusCheck:
		if r.Reference == "" {
			return domain.NewMissingRequiredFieldError("reference")
		}
	case RequestIncrementalAuth, RequestCapture, RequestVoid, RequestRefund:
		if r.RecordNo == "" {
			return domain.NewMissingRequiredFieldError("record number")
		}
	}
	return nil
}

// TerminalErrorKind classifies every failure leaving the terminal client.
type TerminalErrorKind string

const (
	TerminalNetwork    TerminalErrorKind = "network"
	TerminalDeviceBusy TerminalErrorKind = "device_busy"
	TerminalDecline    TerminalErrorKind = "decline"
	TerminalTimeout    TerminalErrorKind = "timeout"
	TerminalProtocol   TerminalErrorKind = "protocol"
)

// TerminalError is the only error type the terminal client returns.
// Result is set on declines so callers can record the processor's answer.
type TerminalError struct {
	Kind      TerminalErrorKind
	Code      string
	Message   string
	Retryable bool
	Result    *domain.AuthorizationResult
	Err       error
}

func (e *TerminalError) Error() string {
	msg := fmt.Sprintf("terminal %s error", e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

func (e *TerminalError) IsRetryable() bool {
	return e.Retryable
}

func IsTerminalError(err error) (*TerminalError, bool) {
	var termErr *TerminalError
	ok := errors.As(err, &termErr)
	return termErr, ok
}
