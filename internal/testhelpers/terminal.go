package testhelpers

import (
	"context"
	"fmt"
	"sync"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

// FakeTerminal is a scriptable application.TerminalClient. Without SendFn it
// approves every request; authorizations get a record number derived from
// the reference so repeated sales with one reference look alike.
type FakeTerminal struct {
	mu       sync.Mutex
	requests []application.TerminalRequest

	SendFn func(ctx context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error)
}

func NewFakeTerminal() *FakeTerminal {
	return &FakeTerminal{}
}

func (f *FakeTerminal) Send(ctx context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.SendFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return Approve(req), nil
}

// Requests returns the recorded requests, optionally filtered by type.
func (f *FakeTerminal) Requests(types ...application.RequestType) []application.TerminalRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []application.TerminalRequest
	for _, r := range f.requests {
		if len(types) == 0 {
			out = append(out, r)
			continue
		}
		for _, t := range types {
			if r.Type == t {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func (f *FakeTerminal) Calls(types ...application.RequestType) int {
	return len(f.Requests(types...))
}

// Approve builds the approved answer the fake gives by default.
func Approve(req application.TerminalRequest) *domain.AuthorizationResult {
	record := req.RecordNo
	if record == "" {
		record = fmt.Sprintf("REC-%s", req.Reference)
	}
	return &domain.AuthorizationResult{
		Success:         true,
		ResponseCode:    "000000",
		AuthCode:        "A12345",
		ReferenceNumber: record,
		CardBrand:       "VISA",
		Last4:           "4242",
		EntryMethod:     "CHIP",
		AmountCents:     req.AmountCents,
		TipCents:        req.TipCents,
		Message:         "APPROVED",
	}
}

func Decline(reason string) *application.TerminalError {
	return &application.TerminalError{
		Kind:    application.TerminalDecline,
		Code:    "100200",
		Message: reason,
		Result: &domain.AuthorizationResult{
			ResponseCode:  "100200",
			DeclineReason: &reason,
			Message:       reason,
		},
	}
}

func Timeout() *application.TerminalError {
	return &application.TerminalError{
		Kind:      application.TerminalTimeout,
		Message:   "terminal did not answer in time",
		Retryable: true,
	}
}
