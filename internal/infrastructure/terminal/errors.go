package terminal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
)

// classifyTransportError turns a failed round trip into a TerminalError.
// Anything that may have reached the device is retryable: the reference on
// the retry lets the device return the original outcome.
func classifyTransportError(err error) *application.TerminalError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &application.TerminalError{
			Kind:      application.TerminalNetwork,
			Code:      "DNS",
			Message:   "terminal host could not be resolved",
			Retryable: dnsErr.IsTimeout || dnsErr.IsTemporary,
			Err:       err,
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &application.TerminalError{
			Kind:      application.TerminalTimeout,
			Message:   "terminal did not answer in time",
			Retryable: true,
			Err:       err,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &application.TerminalError{
			Kind:      application.TerminalTimeout,
			Message:   "request cancelled before the terminal answered",
			Retryable: true,
			Err:       err,
		}
	}

	code := "NETWORK"
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		code = "ECONNREFUSED"
	case errors.Is(err, syscall.EHOSTUNREACH):
		code = "EHOSTUNREACH"
	case errors.Is(err, syscall.ENETUNREACH):
		code = "ENETUNREACH"
	case errors.Is(err, syscall.ECONNRESET):
		code = "ECONNRESET"
	}

	return &application.TerminalError{
		Kind:      application.TerminalNetwork,
		Code:      code,
		Message:   "terminal unreachable",
		Retryable: true,
		Err:       err,
	}
}

func classifyHTTPStatus(status int, body []byte) *application.TerminalError {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return &application.TerminalError{
			Kind:      application.TerminalDeviceBusy,
			Code:      fmt.Sprintf("HTTP_%d", status),
			Message:   "terminal is busy",
			Retryable: true,
		}
	case status >= 500:
		return &application.TerminalError{
			Kind:      application.TerminalNetwork,
			Code:      fmt.Sprintf("HTTP_%d", status),
			Message:   "terminal host error",
			Retryable: true,
		}
	default:
		return &application.TerminalError{
			Kind:    application.TerminalProtocol,
			Code:    fmt.Sprintf("HTTP_%d", status),
			Message: truncate(string(body), 200),
		}
	}
}

func protocolError(code, message string, err error) *application.TerminalError {
	return &application.TerminalError{
		Kind:    application.TerminalProtocol,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
