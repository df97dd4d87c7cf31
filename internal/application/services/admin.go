package services

import (
	"context"
	"log/slog"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

type TerminalAdminService struct {
	terminal application.TerminalClient
	logger   *slog.Logger
}

func NewTerminalAdminService(terminal application.TerminalClient, logger *slog.Logger) *TerminalAdminService {
	return &TerminalAdminService{terminal: terminal, logger: logger}
}

// BatchClose settles the terminal's open batch with the processor.
func (s *TerminalAdminService) BatchClose(ctx context.Context, terminalID string) (*domain.AuthorizationResult, error) {
	if terminalID == "" {
		return nil, domain.NewMissingRequiredFieldError("terminal ID")
	}

	result, err := s.terminal.Send(ctx, application.TerminalRequest{
		Type:       application.RequestBatchClose,
		TerminalID: terminalID,
	})
	if err != nil {
		if termErr, ok := application.IsTerminalError(err); ok {
			return nil, application.NewTerminalFailureError(termErr, "")
		}
		return nil, err
	}

	s.logger.Info("terminal batch closed", "terminal_id", terminalID, "response_code", result.ResponseCode)
	return result, nil
}
