package offline

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
)

// SyncWorker replays the offline queue against the server.
type SyncWorker struct {
	queue   *Queue
	client  SyncClient
	cfg     config.SyncConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewSyncWorker(queue *Queue, client SyncClient, cfg config.SyncConfig, m *metrics.Metrics, logger *slog.Logger) *SyncWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxDeferrals <= 0 {
		cfg.MaxDeferrals = 10
	}
	return &SyncWorker{
		queue:   queue,
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SyncStats summarizes one pass over the queue.
type SyncStats struct {
	Synced   int
	Retried  int
	Deferred int
	Failed   int
}

func (w *SyncWorker) Start(ctx context.Context) {
	if n, err := w.queue.ResetInterrupted(ctx); err != nil {
		w.logger.Error("failed to reset interrupted entries", "error", err)
	} else if n > 0 {
		w.logger.Warn("reset entries interrupted mid-sync", "count", n)
	}

	w.logger.Info("sync worker started", "interval", w.cfg.Interval, "server", w.cfg.ServerURL)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopping")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("sync pass failed", "error", err)
			}
		}
	}
}

// RunOnce syncs every entry that is due now. An order whose head synced is
// revisited in the same pass so its next entry does not wait a full tick.
func (w *SyncWorker) RunOnce(ctx context.Context) (SyncStats, error) {
	start := time.Now()
	defer func() { w.metrics.ObserveJob("offline_sync", time.Since(start)) }()

	var stats SyncStats
	for {
		due, err := w.queue.Due(ctx, w.now(), w.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		synced := 0
		for _, entry := range due {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			ok, err := w.syncEntry(ctx, entry, &stats)
			if err != nil {
				return stats, err
			}
			if ok {
				synced++
			}
		}
		if synced == 0 || len(due) == 0 {
			break
		}
	}

	if depth, err := w.queue.Depth(ctx); err == nil {
		w.metrics.SetQueueDepth(depth)
	}
	if stats != (SyncStats{}) {
		w.logger.Info("sync pass finished",
			"synced", stats.Synced,
			"retried", stats.Retried,
			"deferred", stats.Deferred,
			"failed", stats.Failed,
		)
	}
	return stats, nil
}

// syncEntry reports whether the entry was acknowledged. Errors are store
// failures only; a failed delivery is recorded on the entry.
func (w *SyncWorker) syncEntry(ctx context.Context, entry *domain.OfflineQueueEntry, stats *SyncStats) (bool, error) {
	claimed, err := w.queue.Claim(ctx, entry.LocalID)
	if err != nil || !claimed {
		return false, err
	}

	ack, syncErr := w.client.Sync(ctx, entry.LocalID, entry.Payment)
	if syncErr == nil {
		receipt, err := w.queue.Ack(ctx, entry, ack.ServerID)
		if err != nil {
			return false, err
		}
		stats.Synced++
		w.metrics.IncSync("synced")
		w.logger.Info("offline payment synced",
			"local_id", receipt.LocalID,
			"server_id", receipt.ServerID,
			"order_id", receipt.OrderID,
			"server_status", ack.Status,
		)
		return true, nil
	}

	se := AsSyncError(syncErr)
	msg := se.Error()
	entry.LastError = &msg
	entry.Status = domain.QueuePending
	now := w.now()

	switch se.Kind {
	case SyncDeferred:
		entry.Deferrals++
		if entry.Deferrals > w.cfg.MaxDeferrals {
			entry.Status = domain.QueueFailed
			stats.Failed++
			w.metrics.IncSync("deferral_exhausted")
			w.logger.Error("offline payment needs manual resolution",
				"local_id", entry.LocalID,
				"order_id", entry.OrderID,
				"deferrals", entry.Deferrals,
				"error", msg,
			)
			break
		}
		entry.NextRetryAt = now.Add(w.backoff(entry.Deferrals))
		stats.Deferred++
		w.metrics.IncSync("deferred")
		w.logger.Warn("offline payment deferred until its order syncs",
			"local_id", entry.LocalID,
			"order_id", entry.OrderID,
			"deferrals", entry.Deferrals,
			"next_retry_at", entry.NextRetryAt,
		)
	case SyncRejected:
		entry.Status = domain.QueueFailed
		stats.Failed++
		w.metrics.IncSync("rejected")
		w.logger.Error("offline payment rejected by server",
			"local_id", entry.LocalID,
			"order_id", entry.OrderID,
			"code", se.Code,
			"error", msg,
		)
	default:
		entry.Attempts++
		entry.NextRetryAt = now.Add(w.backoff(entry.Attempts))
		stats.Retried++
		w.metrics.IncSync("retry")
		w.logger.Warn("offline sync failed, will retry",
			"local_id", entry.LocalID,
			"attempts", entry.Attempts,
			"next_retry_at", entry.NextRetryAt,
			"error", msg,
		)
	}

	return false, w.queue.Update(ctx, entry)
}

// backoff is BaseBackoff doubled per attempt and capped at MaxBackoff.
func (w *SyncWorker) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	d := w.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
	if w.cfg.MaxBackoff > 0 && (d <= 0 || d > w.cfg.MaxBackoff) {
		d = w.cfg.MaxBackoff
	}
	return d
}
