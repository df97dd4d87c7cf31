package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

// RetryingClient retries retryable terminal failures with exponential
// backoff. The request, and so its reference, is identical on every attempt.
type RetryingClient struct {
	inner          application.TerminalClient
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxRetries     int
	timeoutRetries int
	logger         *slog.Logger
}

func NewRetryingClient(inner application.TerminalClient, cfg config.RetryConfig, logger *slog.Logger) *RetryingClient {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RetryingClient{
		inner:          inner,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		maxRetries:     maxRetries,
		timeoutRetries: cfg.TimeoutRetries,
		logger:         logger,
	}
}

func (r *RetryingClient) Send(ctx context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
	var lastErr error
	timeouts := 0

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, classifyTransportError(ctx.Err())
		}

		result, err := r.inner.Send(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		termErr, ok := application.IsTerminalError(err)
		if !ok || !termErr.Retryable {
			return nil, err
		}

		if termErr.Kind == application.TerminalTimeout {
			timeouts++
			if timeouts > r.timeoutRetries {
				return nil, err
			}
		}

		if attempt < r.maxRetries-1 {
			delay := r.backoff(attempt)
			r.logger.Info("retrying terminal request",
				"type", req.Type,
				"reference", req.Reference,
				"attempt", attempt+1,
				"delay", delay,
				"kind", termErr.Kind,
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}
	}

	return nil, fmt.Errorf("maximum retries exceeded: %w", lastErr)
}

// Backoff calculation with exponential delay and jitter
func (r *RetryingClient) backoff(attempt int) time.Duration {
	base := r.baseDelay * time.Duration(1<<attempt)
	if r.maxDelay > 0 && base > r.maxDelay {
		base = r.maxDelay
	}

	var jitter time.Duration
	if half := int64(base / 2); half > 0 {
		jitter = time.Duration(rand.Int63n(half))
	}
	return base + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
