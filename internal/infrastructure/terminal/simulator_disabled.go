//go:build !simulated

package terminal

import (
	"log/slog"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
)

const simulatorCompiledIn = false

func newSimulated(*slog.Logger) application.TerminalClient {
	return nil
}
