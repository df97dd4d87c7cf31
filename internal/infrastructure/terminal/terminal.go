// Package terminal is the client side of the payment terminal protocol.
// Every error it returns is an *application.TerminalError.
package terminal

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
)

var (
	ErrSimulatorInProduction = errors.New("terminal simulator is compiled into a production build")
	ErrSimulatorNotCompiled  = errors.New("terminal simulator requested but not compiled in, rebuild with -tags simulated")
)

// AssertBuildAllowed refuses to run a simulator build in production.
func AssertBuildAllowed(env string) error {
	if simulatorCompiledIn && strings.EqualFold(env, config.EnvProduction) {
		return ErrSimulatorInProduction
	}
	return nil
}

// New builds the retrying terminal client for the environment.
func New(cfg config.TerminalConfig, retry config.RetryConfig, env string, m *metrics.Metrics, logger *slog.Logger) (application.TerminalClient, error) {
	if err := AssertBuildAllowed(env); err != nil {
		return nil, err
	}

	var inner application.TerminalClient
	if cfg.Simulated {
		if !simulatorCompiledIn {
			return nil, ErrSimulatorNotCompiled
		}
		inner = newSimulated(logger)
	} else {
		client, err := NewHTTPClient(cfg, m, logger)
		if err != nil {
			return nil, err
		}
		inner = client
	}

	return NewRetryingClient(inner, retry, logger), nil
}
