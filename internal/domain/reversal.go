package domain

import "time"

type ReversalKind string

const (
	ReversalVoid   ReversalKind = "void"
	ReversalRefund ReversalKind = "refund"
)

type ReversalStatus string

const (
	ReversalPending ReversalStatus = "pending"
	ReversalDone    ReversalStatus = "done"
	ReversalManual  ReversalStatus = "manual"
)

// Reversal is a processor-side void or refund that must eventually happen.
// It is persisted before the first attempt so a crash cannot lose it.
//
// Reference is the reversed sale's device reference. RecordNo is empty when
// the authorization outcome was never learned; the reversal then first asks
// the terminal for the status of Reference.
type Reversal struct {
	ID          string
	Kind        ReversalKind
	IntentID    *string
	PaymentID   *string
	TerminalID  string
	Reference   string
	RecordNo    string
	AmountCents int64
	Status      ReversalStatus
	Attempts    int
	NextRetryAt time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RequestReference is the device reference the void or refund itself is
// sent under. It is the same on every retry of this reversal and never
// equals Reference.
func (r *Reversal) RequestReference() string {
	return "rev-" + r.ID
}

func (r *Reversal) MarkDone() {
	r.Status = ReversalDone
	r.LastError = nil
	r.UpdatedAt = time.Now().UTC()
}

func (r *Reversal) ScheduleRetry(backoff time.Duration, lastErr string) {
	r.Attempts++
	r.NextRetryAt = time.Now().UTC().Add(backoff)
	r.LastError = &lastErr
	r.UpdatedAt = time.Now().UTC()
}

func (r *Reversal) MarkManual(lastErr string) {
	r.Status = ReversalManual
	r.LastError = &lastErr
	r.UpdatedAt = time.Now().UTC()
}
