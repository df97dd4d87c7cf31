package application

import (
	"context"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

// TerminalClient is the port for the physical payment terminals.
type TerminalClient interface {
	Send(ctx context.Context, req TerminalRequest) (*domain.AuthorizationResult, error)
}

// IntentRepository persists payment intents. Update is a compare-and-set on
// the intent's base generation and returns a stale-generation DomainError
// when another writer got there first.
type IntentRepository interface {
	Create(ctx context.Context, intent *domain.PaymentIntent) error
	FindByID(ctx context.Context, id string) (*domain.PaymentIntent, error)
	Update(ctx context.Context, intent *domain.PaymentIntent) error
	FindInFlight(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.PaymentIntent, error)
}

// IdempotencyRepository is the storage of the idempotency ledger.
//
// Reserve inserts the key, or re-acquires it when it is neither complete nor
// held by a live lease. acquired is false when someone else owns the key or
// the outcome is already final; the stored record is returned either way.
type IdempotencyRepository interface {
	Reserve(ctx context.Context, rec *domain.IdempotencyRecord, lease time.Duration) (stored *domain.IdempotencyRecord, acquired bool, err error)
	FindByKey(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, response []byte) error
	Release(ctx context.Context, key string) error
}

// OrderLedger is the order system's ledger as this core sees it. Lock*
// methods take row locks and must run inside Store.WithTx.
type OrderLedger interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	LockOrder(ctx context.Context, orderID string) (*domain.Order, error)
	OutstandingBalance(ctx context.Context, orderID string) (int64, error)
	SiblingStatus(ctx context.Context, parentOrderID string) ([]domain.ChildStatus, error)
	UpdateOrder(ctx context.Context, order *domain.Order) error

	ApplyPayment(ctx context.Context, rec *domain.OrderPaymentRecord) error
	PaidTotal(ctx context.Context, orderID string) (int64, error)
	FindPayment(ctx context.Context, paymentID string) (*domain.OrderPaymentRecord, error)
	LockPayment(ctx context.Context, paymentID string) (*domain.OrderPaymentRecord, error)
	FindPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.OrderPaymentRecord, error)
	UpdatePayment(ctx context.Context, rec *domain.OrderPaymentRecord) error
	ListPayments(ctx context.Context, orderID string) ([]*domain.OrderPaymentRecord, error)
}

type OutboxRepository interface {
	Add(ctx context.Context, ev *domain.OutboxEvent) error
	FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

type ReversalRepository interface {
	Create(ctx context.Context, r *domain.Reversal) error
	FindByID(ctx context.Context, id string) (*domain.Reversal, error)
	// FindVoidByIntent returns the first void queued for an intent, in any
	// status, or nil without error when there is none.
	FindVoidByIntent(ctx context.Context, intentID string) (*domain.Reversal, error)
	FindDue(ctx context.Context, limit int) ([]*domain.Reversal, error)
	Update(ctx context.Context, r *domain.Reversal) error
}

// Store groups the repositories that must commit together.
type Store interface {
	Intents() IntentRepository
	Idempotency() IdempotencyRepository
	Orders() OrderLedger
	Outbox() OutboxRepository
	Reversals() ReversalRepository

	// WithTx runs fn against a transactional Store. Nested calls join the
	// outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// OrderLocker serializes work on orders across processes. Keys are acquired
// in the order given; callers pass the parent before the child.
type OrderLocker interface {
	Lock(ctx context.Context, keys ...string) (release func(), err error)
}

// EventPublisher delivers outbox events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev *domain.OutboxEvent) error
}
