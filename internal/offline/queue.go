package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

var (
	ErrEntryNotFound    = errors.New("offline queue entry not found")
	ErrReceiptNotFound  = errors.New("sync receipt not found")
	ErrTerminalMismatch = errors.New("payment belongs to another terminal")
)

const entryColumns = `local_id, seq, idempotency_key, order_id, payload, attempts, deferrals,
	next_retry_at, status, last_error, created_at`

// Queue persists offline payments for one terminal. Entries for the same
// order are replayed strictly in capture order.
type Queue struct {
	db         *sql.DB
	terminalID string
	logger     *slog.Logger
	now        func() time.Time
}

func NewQueue(db *sql.DB, terminalID string, logger *slog.Logger) *Queue {
	return &Queue{
		db:         db,
		terminalID: terminalID,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) TerminalID() string { return q.terminalID }

// Capture durably records p before the caller acknowledges the tender.
// Capturing the same idempotency key twice returns the original entry.
func (q *Queue) Capture(ctx context.Context, p domain.OfflinePayment) (*domain.OfflineQueueEntry, error) {
	if p.TerminalID == "" {
		p.TerminalID = q.terminalID
	}
	if p.TerminalID != q.terminalID {
		return nil, fmt.Errorf("%w: %s", ErrTerminalMismatch, p.TerminalID)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := q.now()
	if p.CapturedAt.IsZero() {
		p.CapturedAt = now
	}
	if p.IdempotencyKey == "" {
		key, err := domain.NewIdempotencyKey(p.TerminalID, p.OrderID, p.AmountCents, p.CapturedAt)
		if err != nil {
			return nil, err
		}
		p.IdempotencyKey = key
	} else {
		parts, err := domain.ParseIdempotencyKey(p.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if err := parts.Matches(p.TerminalID, p.OrderID, p.AmountCents); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode offline payment: %w", err)
	}

	var entry *domain.OfflineQueueEntry
	err = withTx(ctx, q.db, func(ctx context.Context, tx DBTX) error {
		existing, err := findByKey(ctx, tx, p.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			return nil
		}

		seq, err := nextSeq(ctx, tx, q.terminalID)
		if err != nil {
			return err
		}
		entry = &domain.OfflineQueueEntry{
			LocalID:        domain.LocalPaymentID(q.terminalID, seq),
			IdempotencyKey: p.IdempotencyKey,
			OrderID:        p.OrderID,
			Seq:            seq,
			Payment:        p,
			NextRetryAt:    now,
			Status:         domain.QueuePending,
			CreatedAt:      now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO offline_queue (local_id, seq, idempotency_key, order_id, payload,
				attempts, deferrals, next_retry_at, status, created_at)
			VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
			entry.LocalID, entry.Seq, entry.IdempotencyKey, entry.OrderID, string(payload),
			now.UnixMilli(), string(domain.QueuePending), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert offline payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.logger.Info("offline payment captured",
		"local_id", entry.LocalID,
		"order_id", entry.OrderID,
		"method", p.Method,
		"amount_cents", p.AmountCents,
	)
	return entry, nil
}

// findByKey looks in the queue first and then in the receipts of entries
// that already synced.
func findByKey(ctx context.Context, db DBTX, key string) (*domain.OfflineQueueEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM offline_queue WHERE idempotency_key = ?`, key)
	entry, err := scanEntry(row)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return nil, err
	}

	receipt, err := scanReceipt(db.QueryRowContext(ctx, `
		SELECT local_id, idempotency_key, order_id, server_id, synced_at
		FROM sync_receipts WHERE idempotency_key = ?`, key))
	if errors.Is(err, ErrReceiptNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	serverID := receipt.ServerID
	return &domain.OfflineQueueEntry{
		LocalID:        receipt.LocalID,
		IdempotencyKey: receipt.IdempotencyKey,
		OrderID:        receipt.OrderID,
		Status:         domain.QueueSynced,
		ServerID:       &serverID,
	}, nil
}

func nextSeq(ctx context.Context, tx DBTX, terminalID string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_sequence (terminal_id, next_seq) VALUES (?, 1)
		ON CONFLICT(terminal_id) DO UPDATE SET next_seq = next_seq + 1`, terminalID)
	if err != nil {
		return 0, fmt.Errorf("advance queue sequence: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT next_seq FROM queue_sequence WHERE terminal_id = ?`, terminalID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read queue sequence: %w", err)
	}
	return seq, nil
}

// Due returns up to limit entries ready to sync. Only the oldest entry of
// each order is eligible, so a failed head holds back the rest of its order.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int) ([]*domain.OfflineQueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM offline_queue q
		WHERE q.status = ?
		  AND q.next_retry_at <= ?
		  AND q.seq = (SELECT MIN(h.seq) FROM offline_queue h WHERE h.order_id = q.order_id)
		ORDER BY q.seq
		LIMIT ?`,
		string(domain.QueuePending), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due entries: %w", err)
	}
	return collectEntries(rows)
}

// Claim moves a pending entry to syncing. It reports false when another
// worker got there first.
func (q *Queue) Claim(ctx context.Context, localID string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE offline_queue SET status = ? WHERE local_id = ? AND status = ?`,
		string(domain.QueueSyncing), localID, string(domain.QueuePending),
	)
	if err != nil {
		return false, fmt.Errorf("claim entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Update persists the retry bookkeeping of an entry.
func (q *Queue) Update(ctx context.Context, e *domain.OfflineQueueEntry) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE offline_queue
		SET attempts = ?, deferrals = ?, next_retry_at = ?, status = ?, last_error = ?
		WHERE local_id = ?`,
		e.Attempts, e.Deferrals, e.NextRetryAt.UnixMilli(), string(e.Status), e.LastError, e.LocalID,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, e.LocalID)
	}
	return nil
}

// Ack records the server ID and removes the entry from the queue.
func (q *Queue) Ack(ctx context.Context, e *domain.OfflineQueueEntry, serverID string) (*domain.SyncReceipt, error) {
	receipt := &domain.SyncReceipt{
		LocalID:        e.LocalID,
		IdempotencyKey: e.IdempotencyKey,
		OrderID:        e.OrderID,
		ServerID:       serverID,
		SyncedAt:       q.now(),
	}
	err := withTx(ctx, q.db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_receipts (local_id, idempotency_key, order_id, server_id, synced_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO NOTHING`,
			receipt.LocalID, receipt.IdempotencyKey, receipt.OrderID, receipt.ServerID, receipt.SyncedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert sync receipt: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_queue WHERE local_id = ?`, e.LocalID); err != nil {
			return fmt.Errorf("delete synced entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ResetInterrupted returns entries left in syncing by a crash to pending.
// Replaying them is safe because the server deduplicates by key.
func (q *Queue) ResetInterrupted(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE offline_queue SET status = ? WHERE status = ?`,
		string(domain.QueuePending), string(domain.QueueSyncing),
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted entries: %w", err)
	}
	return res.RowsAffected()
}

// Requeue puts a failed entry back in line after manual resolution.
func (q *Queue) Requeue(ctx context.Context, localID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE offline_queue
		SET status = ?, attempts = 0, deferrals = 0, next_retry_at = ?, last_error = NULL
		WHERE local_id = ? AND status = ?`,
		string(domain.QueuePending), q.now().UnixMilli(), localID, string(domain.QueueFailed),
	)
	if err != nil {
		return fmt.Errorf("requeue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: no failed entry %s", ErrEntryNotFound, localID)
	}
	return nil
}

func (q *Queue) Get(ctx context.Context, localID string) (*domain.OfflineQueueEntry, error) {
	return scanEntry(q.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM offline_queue WHERE local_id = ?`, localID))
}

func (q *Queue) Receipt(ctx context.Context, localID string) (*domain.SyncReceipt, error) {
	return scanReceipt(q.db.QueryRowContext(ctx, `
		SELECT local_id, idempotency_key, order_id, server_id, synced_at
		FROM sync_receipts WHERE local_id = ?`, localID))
}

// List returns entries in capture order, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status domain.QueueStatus) ([]*domain.OfflineQueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM offline_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	rows, err := q.db.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return collectEntries(rows)
}

// Depth counts entries not yet synced, failed ones included.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.OfflineQueueEntry, error) {
	var (
		e                              domain.OfflineQueueEntry
		payload, status                string
		lastError                      sql.NullString
		nextRetryMillis, createdMillis int64
	)
	err := row.Scan(&e.LocalID, &e.Seq, &e.IdempotencyKey, &e.OrderID, &payload, &e.Attempts, &e.Deferrals,
		&nextRetryMillis, &status, &lastError, &createdMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &e.Payment); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", e.LocalID, err)
	}
	e.Status = domain.QueueStatus(status)
	e.NextRetryAt = time.UnixMilli(nextRetryMillis).UTC()
	e.CreatedAt = time.UnixMilli(createdMillis).UTC()
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*domain.OfflineQueueEntry, error) {
	defer rows.Close()
	var out []*domain.OfflineQueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanReceipt(row rowScanner) (*domain.SyncReceipt, error) {
	var (
		r            domain.SyncReceipt
		syncedMillis int64
	)
	err := row.Scan(&r.LocalID, &r.IdempotencyKey, &r.OrderID, &r.ServerID, &syncedMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	r.SyncedAt = time.UnixMilli(syncedMillis).UTC()
	return &r, nil
}
