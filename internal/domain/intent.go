// Package domain holds the payment intent state machine, the order payment
// records it settles into, and the rules that keep an order ledger balanced.
package domain

import (
	"slices"
	"time"
)

// IntentState is a step in the lifecycle of a single payment attempt.
type IntentState string

const (
	StateCreated        IntentState = "created"
	StateTokenizing     IntentState = "tokenizing"
	StateAuthorizing    IntentState = "authorizing"
	StateNeedsSignature IntentState = "needs_signature"
	StateCapturing      IntentState = "capturing"
	StateCompleted      IntentState = "completed"
	StateFailed         IntentState = "failed"
	StateCancelled      IntentState = "cancelled"
)

// IntentKind selects how the terminal moves the money. A preauth holds funds
// and is captured (with tip) once the guest signs off.
type IntentKind string

const (
	KindSale    IntentKind = "sale"
	KindPreAuth IntentKind = "preauth"
)

func (k IntentKind) Valid() bool {
	return k == KindSale || k == KindPreAuth
}

// StatusChange is one entry of an intent's history.
type StatusChange struct {
	From   IntentState `json:"from"`
	To     IntentState `json:"to"`
	At     time.Time   `json:"at"`
	Reason string      `json:"reason,omitempty"`
}

type PaymentIntent struct {
	ID             string
	IdempotencyKey string
	OrderID        string
	TerminalID     string
	AmountCents    int64
	TipCents       int64
	Kind           IntentKind
	State          IntentState
	History        []StatusChange
	Generation     int64

	IsOfflineCapture    bool
	SignatureCaptured   bool
	Authorization       *AuthorizationResult
	CapturedAt          *time.Time
	PaymentID           *string
	NeedsReconciliation bool

	AttemptCount      int
	NextRetryAt       *time.Time
	LastErrorCategory *string

	CreatedAt time.Time
	UpdatedAt time.Time

	baseGeneration int64
}

func NewPaymentIntent(id, orderID, terminalID string, amountCents, tipCents int64, kind IntentKind) (*PaymentIntent, error) {
	if id == "" {
		return nil, NewMissingRequiredFieldError("intent ID")
	}
	if orderID == "" {
		return nil, NewMissingRequiredFieldError("order ID")
	}
	if terminalID == "" {
		return nil, NewMissingRequiredFieldError("terminal ID")
	}
	if amountCents <= 0 {
		return nil, NewAmountValidationError("card amount must be greater than zero")
	}
	if tipCents < 0 {
		return nil, NewAmountValidationError("tip cannot be negative")
	}
	if kind == "" {
		kind = KindSale
	}
	if !kind.Valid() {
		return nil, NewInvalidMethodError("unknown intent kind " + string(kind))
	}

	now := time.Now().UTC()
	return &PaymentIntent{
		ID:          id,
		OrderID:     orderID,
		TerminalID:  terminalID,
		AmountCents: amountCents,
		TipCents:    tipCents,
		Kind:        kind,
		State:       StateCreated,
		Generation:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// BaseGeneration is the generation the intent had when it was last loaded or
// saved. Repositories compare against it when persisting.
func (i *PaymentIntent) BaseGeneration() int64 {
	return i.baseGeneration
}

// MarkPersisted records that the current generation is what storage holds.
func (i *PaymentIntent) MarkPersisted() {
	i.baseGeneration = i.Generation
}

// BeginTokenizing starts the card read. The idempotency key is fixed here and
// reused for every retry of this intent.
func (i *PaymentIntent) BeginTokenizing(idempotencyKey string) error {
	if idempotencyKey == "" {
		return NewMissingRequiredFieldError("idempotency key")
	}
	if err := i.transition(StateTokenizing, ""); err != nil {
		return err
	}
	i.IdempotencyKey = idempotencyKey
	return nil
}

// CardRead moves a tokenizing intent to authorizing once the device has the card.
func (i *PaymentIntent) CardRead() error {
	return i.transition(StateAuthorizing, "")
}

// ApplyAuthorization records the processor's answer. A decline fails the
// intent; an approval either waits for a signature or moves on to capture.
func (i *PaymentIntent) ApplyAuthorization(result *AuthorizationResult) error {
	if result == nil {
		return NewMissingRequiredFieldError("authorization result")
	}
	if i.State != StateAuthorizing {
		return NewInvalidTransitionError(i.State, StateCapturing)
	}

	i.Authorization = result
	i.NeedsReconciliation = false

	if !result.Success {
		reason := "declined"
		if result.DeclineReason != nil {
			reason = *result.DeclineReason
		}
		return i.transition(StateFailed, reason)
	}

	if result.SignatureRequired && !i.SignatureCaptured {
		return i.transition(StateNeedsSignature, "")
	}
	return i.transition(StateCapturing, "")
}

// SignatureAccepted returns a needs_signature intent to authorizing so the
// approval can be applied again.
func (i *PaymentIntent) SignatureAccepted() error {
	if err := i.transition(StateAuthorizing, "signature captured"); err != nil {
		return err
	}
	i.SignatureCaptured = true
	return nil
}

// SetTip records the tip chosen on the device. The tip can only change
// before the card is authorized.
func (i *PaymentIntent) SetTip(tipCents int64) error {
	if tipCents < 0 {
		return NewAmountValidationError("tip cannot be negative")
	}
	if i.State != StateCreated && i.State != StateTokenizing {
		return NewInvalidTransitionError(i.State, StateAuthorizing)
	}
	i.TipCents = tipCents
	i.touch()
	return nil
}

// MarkCaptured records that a preauth hold was captured on the terminal.
func (i *PaymentIntent) MarkCaptured() error {
	if i.State != StateCapturing {
		return NewInvalidTransitionError(i.State, StateCompleted)
	}
	now := time.Now().UTC()
	i.CapturedAt = &now
	i.touch()
	return nil
}

// NeedsCapture reports a preauth whose hold has not been captured yet.
func (i *PaymentIntent) NeedsCapture() bool {
	return i.Kind == KindPreAuth && i.CapturedAt == nil
}

// Complete closes the intent with the order payment record it produced.
func (i *PaymentIntent) Complete(paymentID string) error {
	if paymentID == "" {
		return NewMissingRequiredFieldError("payment ID")
	}
	if err := i.transition(StateCompleted, ""); err != nil {
		return err
	}
	i.PaymentID = &paymentID
	i.NeedsReconciliation = false
	i.NextRetryAt = nil
	return nil
}

func (i *PaymentIntent) Fail(reason string) error {
	if err := i.transition(StateFailed, reason); err != nil {
		return err
	}
	i.NextRetryAt = nil
	return nil
}

func (i *PaymentIntent) Cancel(reason string) error {
	if err := i.transition(StateCancelled, reason); err != nil {
		return err
	}
	i.NextRetryAt = nil
	return nil
}

// HasAuthorizationRef reports whether a processor authorization exists that
// would have to be voided if the intent does not complete.
func (i *PaymentIntent) HasAuthorizationRef() bool {
	return i.Authorization != nil && i.Authorization.Success && i.Authorization.ReferenceNumber != ""
}

// MarkOutcomeUnknown flags an intent whose terminal call ended without an
// answer. The device may have charged the card.
func (i *PaymentIntent) MarkOutcomeUnknown(errorCategory string) {
	i.NeedsReconciliation = true
	i.LastErrorCategory = &errorCategory
	i.touch()
}

func (i *PaymentIntent) ScheduleRetry(backoff time.Duration, errorCategory string) {
	i.AttemptCount++
	next := time.Now().UTC().Add(backoff)
	i.NextRetryAt = &next
	i.LastErrorCategory = &errorCategory
	i.touch()
}

// helper to identify intent states that are terminal
func (i *PaymentIntent) IsTerminal() bool {
	return i.State.IsTerminal()
}

func (s IntentState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsInFlight reports states in which a terminal call may be outstanding.
func (s IntentState) IsInFlight() bool {
	switch s {
	case StateTokenizing, StateAuthorizing, StateNeedsSignature, StateCapturing:
		return true
	default:
		return false
	}
}

func (i *PaymentIntent) transition(target IntentState, reason string) error {
	if err := i.canTransitionTo(target); err != nil {
		return err
	}
	i.History = append(i.History, StatusChange{
		From:   i.State,
		To:     target,
		At:     time.Now().UTC(),
		Reason: reason,
	})
	i.State = target
	i.touch()
	return nil
}

func (i *PaymentIntent) touch() {
	i.Generation++
	i.UpdatedAt = time.Now().UTC()
}

func (i *PaymentIntent) canTransitionTo(target IntentState) error {
	switch i.State {
	case StateCreated:
		return i.allow(target, StateTokenizing, StateFailed, StateCancelled)
	case StateTokenizing:
		return i.allow(target, StateAuthorizing, StateFailed, StateCancelled)
	case StateAuthorizing:
		return i.allow(target, StateCapturing, StateNeedsSignature, StateFailed, StateCancelled)
	case StateNeedsSignature:
		return i.allow(target, StateAuthorizing, StateFailed, StateCancelled)
	case StateCapturing:
		return i.allow(target, StateCompleted, StateFailed, StateCancelled)
	}
	return NewInvalidTransitionError(i.State, target)
}

func (i *PaymentIntent) allow(target IntentState, allowed ...IntentState) error {
	if slices.Contains(allowed, target) {
		return nil
	}
	return NewInvalidTransitionError(i.State, target)
}
