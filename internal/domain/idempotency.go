package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const keySeparator = "|"

// IdempotencyKeyParts are the inputs of an idempotency key. The amount is
// part of the key so a changed amount can never replay an earlier result.
type IdempotencyKeyParts struct {
	TerminalID  string
	OrderID     string
	AmountCents int64
	Timestamp   time.Time
	Nonce       string
}

// NewIdempotencyKey builds a key with a fresh random nonce.
func NewIdempotencyKey(terminalID, orderID string, amountCents int64, at time.Time) (string, error) {
	return BuildIdempotencyKey(IdempotencyKeyParts{
		TerminalID:  terminalID,
		OrderID:     orderID,
		AmountCents: amountCents,
		Timestamp:   at,
		Nonce:       strings.ReplaceAll(uuid.NewString(), "-", ""),
	})
}

func BuildIdempotencyKey(p IdempotencyKeyParts) (string, error) {
	for name, v := range map[string]string{"terminal ID": p.TerminalID, "order ID": p.OrderID, "nonce": p.Nonce} {
		if v == "" {
			return "", NewMalformedIdempotencyKeyError(name + " is required")
		}
		if strings.Contains(v, keySeparator) {
			return "", NewMalformedIdempotencyKeyError(name + " contains a reserved character")
		}
	}
	if p.AmountCents <= 0 {
		return "", NewMalformedIdempotencyKeyError("amount must be greater than zero")
	}

	return strings.Join([]string{
		p.TerminalID,
		p.OrderID,
		strconv.FormatInt(p.AmountCents, 10),
		strconv.FormatInt(p.Timestamp.UnixMilli(), 10),
		p.Nonce,
	}, keySeparator), nil
}

func ParseIdempotencyKey(key string) (IdempotencyKeyParts, error) {
	fields := strings.Split(key, keySeparator)
	if len(fields) != 5 {
		return IdempotencyKeyParts{}, NewMalformedIdempotencyKeyError("expected five key segments")
	}

	amount, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || amount <= 0 {
		return IdempotencyKeyParts{}, NewMalformedIdempotencyKeyError("amount segment is not a positive integer")
	}
	millis, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return IdempotencyKeyParts{}, NewMalformedIdempotencyKeyError("timestamp segment is not an integer")
	}
	if fields[0] == "" || fields[1] == "" || fields[4] == "" {
		return IdempotencyKeyParts{}, NewMalformedIdempotencyKeyError("empty key segment")
	}

	return IdempotencyKeyParts{
		TerminalID:  fields[0],
		OrderID:     fields[1],
		AmountCents: amount,
		Timestamp:   time.UnixMilli(millis).UTC(),
		Nonce:       fields[4],
	}, nil
}

// Matches checks that a key was issued for this terminal, order and amount.
func (p IdempotencyKeyParts) Matches(terminalID, orderID string, amountCents int64) error {
	if p.TerminalID != terminalID || p.OrderID != orderID || p.AmountCents != amountCents {
		return NewMalformedIdempotencyKeyError(fmt.Sprintf(
			"key was issued for %s/%s/%d", p.TerminalID, p.OrderID, p.AmountCents,
		))
	}
	return nil
}

// IdempotencyRecord is a row of the idempotency ledger. LockedAt is set while
// an attempt owns the key; Response is set once the outcome is final.
type IdempotencyRecord struct {
	Key         string
	SubjectID   string
	RequestHash string
	LockedAt    *time.Time
	Response    json.RawMessage
	CompletedAt *time.Time
	CreatedAt   time.Time
}

func (r *IdempotencyRecord) IsComplete() bool {
	return r.CompletedAt != nil
}

type ReservationStatus string

const (
	// ReservationAcquired means the caller owns the key and must do the work.
	ReservationAcquired ReservationStatus = "acquired"
	// ReservationCompleted means the work is done; Response holds the outcome.
	ReservationCompleted ReservationStatus = "completed"
	// ReservationInProgress means another attempt currently owns the key.
	ReservationInProgress ReservationStatus = "in_progress"
)

type Reservation struct {
	Key       string
	SubjectID string
	Status    ReservationStatus
	Response  json.RawMessage
}
