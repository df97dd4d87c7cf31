package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
)

const (
	SyncStatusApplied   = "applied"
	SyncStatusDuplicate = "duplicate"
)

// SyncResult answers POST /payments/sync. ServerID is stable across replays.
type SyncResult struct {
	ServerID    string             `json:"server_id"`
	Status      string             `json:"status"`
	LocalID     string             `json:"local_id"`
	OrderID     string             `json:"order_id"`
	OrderStatus domain.OrderStatus `json:"order_status"`
}

// SyncService applies payments captured offline by terminal agents.
type SyncService struct {
	ledger     *IdempotencyLedger
	store      application.Store
	reconciler *Reconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewSyncService(store application.Store, ledger *IdempotencyLedger, reconciler *Reconciler, m *metrics.Metrics, logger *slog.Logger) *SyncService {
	return &SyncService{
		ledger:     ledger,
		store:      store,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
	}
}

// Apply is safe to call any number of times with the same key: the first
// call records the payment and later calls return the same server ID.
func (s *SyncService) Apply(ctx context.Context, cmd SyncCommand) (*SyncResult, error) {
	p := cmd.Payment
	if cmd.LocalID == "" {
		return nil, domain.NewMissingRequiredFieldError("local ID")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	parts, err := domain.ParseIdempotencyKey(p.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := parts.Matches(p.TerminalID, p.OrderID, p.AmountCents); err != nil {
		return nil, err
	}

	res, err := s.ledger.Reserve(ctx, p.IdempotencyKey, cmd.LocalID, ComputeHash(cmd))
	if err != nil {
		s.metrics.IncSync(application.ToErrorCode(err))
		return nil, err
	}
	if res.Status == domain.ReservationCompleted {
		var cached SyncResult
		if err := json.Unmarshal(res.Response, &cached); err != nil {
			return nil, application.NewInternalError(fmt.Errorf("decode cached sync result: %w", err))
		}
		cached.Status = SyncStatusDuplicate
		s.metrics.IncSync(SyncStatusDuplicate)
		return &cached, nil
	}

	localID := cmd.LocalID
	result, err := s.reconciler.Reconcile(ctx, ReconcileInput{
		OrderID:          p.OrderID,
		TerminalID:       p.TerminalID,
		Method:           p.Method,
		AmountCents:      p.AmountCents,
		TipCents:         p.TipCents,
		Card:             p.Card,
		IdempotencyKey:   p.IdempotencyKey,
		LocalID:          &localID,
		IsOfflineCapture: p.Method == domain.MethodCard,
		OnApplied: func(ctx context.Context, tx application.Store, r *ReconcileResult) error {
			return s.ledger.Complete(ctx, tx, p.IdempotencyKey, syncResult(localID, r, SyncStatusApplied))
		},
	})
	if err != nil {
		_ = s.ledger.Release(ctx, p.IdempotencyKey)
		s.metrics.IncSync(application.ToErrorCode(err))
		s.logger.Warn("offline payment rejected",
			"local_id", localID,
			"order_id", p.OrderID,
			"code", application.ToErrorCode(err),
			"error", err,
		)
		return nil, err
	}

	if result.Replayed {
		out := syncResult(localID, result, SyncStatusDuplicate)
		err := s.store.WithTx(ctx, func(tx application.Store) error {
			return s.ledger.Complete(ctx, tx, p.IdempotencyKey, out)
		})
		if err != nil {
			return nil, application.NewInternalError(err)
		}
		s.metrics.IncSync(SyncStatusDuplicate)
		return &out, nil
	}

	out := syncResult(localID, result, SyncStatusApplied)
	s.metrics.IncSync(SyncStatusApplied)
	if p.Method == domain.MethodCard {
		s.logger.Info("offline card capture synced",
			"local_id", localID,
			"server_id", out.ServerID,
			"order_id", p.OrderID,
			"captured_at", p.CapturedAt,
		)
	}
	return &out, nil
}

func syncResult(localID string, r *ReconcileResult, status string) SyncResult {
	return SyncResult{
		ServerID:    r.Payment.ID,
		Status:      status,
		LocalID:     localID,
		OrderID:     r.Payment.OrderID,
		OrderStatus: r.Order.Status,
	}
}
