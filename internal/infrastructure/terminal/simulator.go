//go:build simulated

package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

const simulatorCompiledIn = true

// Simulator is an in-process terminal for development builds.
//
// Amounts ending in 13 cents are declined and amounts ending in 99 cents
// report the device busy once per reference. Sales above 100.00 ask for a
// signature. Results are remembered by reference, so a repeated sale returns
// the original outcome instead of charging again. Voids and refunds are
// remembered the same way.
type Simulator struct {
	mu       sync.Mutex
	seq      int
	byRef    map[string]*domain.AuthorizationResult
	byRecord map[string]*domain.AuthorizationResult
	busySeen map[string]bool
	logger   *slog.Logger
}

func NewSimulator(logger *slog.Logger) *Simulator {
	return &Simulator{
		byRef:    make(map[string]*domain.AuthorizationResult),
		byRecord: make(map[string]*domain.AuthorizationResult),
		busySeen: make(map[string]bool),
		logger:   logger,
	}
}

func newSimulated(logger *slog.Logger) application.TerminalClient {
	logger.Warn("using simulated payment terminal")
	return NewSimulator(logger)
}

func (s *Simulator) Send(ctx context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(err)
	}
	if err := req.Validate(); err != nil {
		return nil, protocolError("INVALID_REQUEST", "request rejected before sending", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Type {
	case application.RequestSale, application.RequestPreAuth:
		return s.authorize(req)
	case application.RequestVoid, application.RequestRefund:
		if prev, ok := s.byRef[req.Reference]; ok && req.Reference != "" {
			res := *prev
			return &res, nil
		}
		res, err := s.adjust(req)
		if err != nil {
			return nil, err
		}
		if req.Reference != "" {
			stored := *res
			s.byRef[req.Reference] = &stored
		}
		return res, nil
	case application.RequestIncrementalAuth, application.RequestCapture:
		return s.adjust(req)
	case application.RequestStatusCheck:
		if prev, ok := s.byRef[req.Reference]; ok {
			res := *prev
			return &res, nil
		}
		return &domain.AuthorizationResult{ResponseCode: application.ResponseCodeNotFound}, nil
	case application.RequestGetTip:
		return &domain.AuthorizationResult{Success: true, ResponseCode: "000000", TipCents: req.AmountCents * 15 / 100}, nil
	case application.RequestGetSignature, application.RequestBatchClose:
		return &domain.AuthorizationResult{Success: true, ResponseCode: "000000"}, nil
	}
	return nil, protocolError("UNSUPPORTED", fmt.Sprintf("unsupported request type %q", req.Type), nil)
}

// adjust acts on an earlier authorization found by record number.
func (s *Simulator) adjust(req application.TerminalRequest) (*domain.AuthorizationResult, error) {
	prev, ok := s.byRecord[req.RecordNo]
	if !ok {
		return nil, protocolError("004003", "record not found: "+req.RecordNo, nil)
	}
	res := *prev
	res.DeclineReason = nil
	if req.AmountCents > 0 {
		res.AmountCents = req.AmountCents
	}
	return &res, nil
}

func (s *Simulator) authorize(req application.TerminalRequest) (*domain.AuthorizationResult, error) {
	if prev, ok := s.byRef[req.Reference]; ok {
		res := *prev
		if !res.Success {
			return nil, &application.TerminalError{Kind: application.TerminalDecline, Code: res.ResponseCode, Message: *res.DeclineReason, Result: &res}
		}
		return &res, nil
	}

	switch req.AmountCents % 100 {
	case 99:
		if !s.busySeen[req.Reference] {
			s.busySeen[req.Reference] = true
			return nil, &application.TerminalError{Kind: application.TerminalDeviceBusy, Code: "003010", Message: "device busy", Retryable: true}
		}
	case 13:
		reason := "DECLINED"
		res := &domain.AuthorizationResult{ResponseCode: "100200", DeclineReason: &reason, AmountCents: req.AmountCents, Message: reason}
		s.byRef[req.Reference] = res
		copied := *res
		return nil, &application.TerminalError{Kind: application.TerminalDecline, Code: res.ResponseCode, Message: reason, Result: &copied}
	}

	s.seq++
	res := &domain.AuthorizationResult{
		Success:           true,
		ResponseCode:      "000000",
		AuthCode:          fmt.Sprintf("A%05d", s.seq),
		ReferenceNumber:   fmt.Sprintf("SIM-%06d", s.seq),
		CardBrand:         "VISA",
		Last4:             "4242",
		EntryMethod:       "CHIP",
		SignatureRequired: req.AmountCents > 10000,
		AmountCents:       req.AmountCents,
		TipCents:          req.TipCents,
		Message:           "APPROVED",
	}
	s.byRef[req.Reference] = res
	s.byRecord[res.ReferenceNumber] = res
	copied := *res
	return &copied, nil
}
