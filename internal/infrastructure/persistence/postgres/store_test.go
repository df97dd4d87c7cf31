package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/persistence/postgres"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/testhelpers"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	testDB *testhelpers.TestDatabase
	store  *postgres.Store
	ctx    context.Context
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupSuite() {
	s.testDB = testhelpers.SetupTestDatabase(s.T())
	s.store = postgres.NewStore(s.testDB.DB)
	s.ctx = context.Background()
}

func (s *StoreTestSuite) SetupTest() {
	s.testDB.CleanTables(s.T())
}

func (s *StoreTestSuite) newIntent(orderID string) *domain.PaymentIntent {
	intent, err := domain.NewPaymentIntent(uuid.NewString(), orderID, "T1", 4250, 0, domain.KindSale)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Intents().Create(s.ctx, intent))
	return intent
}

func (s *StoreTestSuite) TestIntent_CompareAndSet() {
	testhelpers.SeedOrder(s.T(), s.store, "ord-1", nil, 4250)
	intent := s.newIntent("ord-1")

	foreground, err := s.store.Intents().FindByID(s.ctx, intent.ID)
	s.Require().NoError(err)
	background, err := s.store.Intents().FindByID(s.ctx, intent.ID)
	s.Require().NoError(err)

	s.Require().NoError(foreground.Cancel("customer walked away"))
	s.Require().NoError(s.store.Intents().Update(s.ctx, foreground))

	s.Require().NoError(background.BeginTokenizing("T1|ord-1|4250|1|n"))
	err = s.store.Intents().Update(s.ctx, background)
	s.ErrorIs(err, domain.ErrStaleGeneration)

	stored, err := s.store.Intents().FindByID(s.ctx, intent.ID)
	s.Require().NoError(err)
	s.Equal(domain.StateCancelled, stored.State)
	s.Empty(stored.IdempotencyKey)
	s.Len(stored.History, 1)
}

func (s *StoreTestSuite) TestIntent_FindInFlight() {
	testhelpers.SeedOrder(s.T(), s.store, "ord-1", nil, 4250)
	intent := s.newIntent("ord-1")
	s.Require().NoError(intent.BeginTokenizing("T1|ord-1|4250|1|n"))
	s.Require().NoError(intent.CardRead())
	s.Require().NoError(s.store.Intents().Update(s.ctx, intent))
	s.newIntent("ord-1")

	found, err := s.store.Intents().FindInFlight(s.ctx, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(intent.ID, found[0].ID)
	s.Equal(domain.StateAuthorizing, found[0].State)
}

func (s *StoreTestSuite) TestIdempotency_ReserveSemantics() {
	repo := s.store.Idempotency()
	rec := &domain.IdempotencyRecord{Key: "k1", SubjectID: "intent-1", RequestHash: "h1"}

	_, acquired, err := repo.Reserve(s.ctx, rec, time.Minute)
	s.Require().NoError(err)
	s.True(acquired)

	stored, acquired, err := repo.Reserve(s.ctx, rec, time.Minute)
	s.Require().NoError(err)
	s.False(acquired, "live lease must not be shared")
	s.Equal("intent-1", stored.SubjectID)

	s.Require().NoError(repo.Release(s.ctx, "k1"))
	_, acquired, err = repo.Reserve(s.ctx, rec, time.Minute)
	s.Require().NoError(err)
	s.True(acquired, "released key can be retried")

	s.Require().NoError(repo.Complete(s.ctx, "k1", []byte(`{"intent_id":"intent-1"}`)))
	stored, acquired, err = repo.Reserve(s.ctx, rec, time.Minute)
	s.Require().NoError(err)
	s.False(acquired)
	s.True(stored.IsComplete())
	s.JSONEq(`{"intent_id":"intent-1"}`, string(stored.Response))
}

func (s *StoreTestSuite) TestOrders_PaymentsAndTotals() {
	testhelpers.SeedOrder(s.T(), s.store, "ord-1", nil, 5000)

	card, err := domain.NewCardDetails("REC-1", "VISA", "4242", "A1")
	s.Require().NoError(err)
	first, err := domain.NewOrderPaymentRecord(ulid.Make().String(), "ord-1", domain.MethodCard, 3000, 0, 0, card, "k1")
	s.Require().NoError(err)
	second, err := domain.NewOrderPaymentRecord(ulid.Make().String(), "ord-1", domain.MethodCash, 2000, 0, 500, nil, "k2")
	s.Require().NoError(err)

	err = s.store.WithTx(s.ctx, func(tx application.Store) error {
		if _, err := tx.Orders().LockOrder(s.ctx, "ord-1"); err != nil {
			return err
		}
		if err := tx.Orders().ApplyPayment(s.ctx, first); err != nil {
			return err
		}
		return tx.Orders().ApplyPayment(s.ctx, second)
	})
	s.Require().NoError(err)

	total, err := s.store.Orders().PaidTotal(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(int64(5000), total)

	s.Require().NoError(second.Void(time.Now()))
	s.Require().NoError(s.store.Orders().UpdatePayment(s.ctx, second))

	total, err = s.store.Orders().PaidTotal(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Equal(int64(3000), total)

	found, err := s.store.Orders().FindPaymentByIdempotencyKey(s.ctx, "k1")
	s.Require().NoError(err)
	s.Require().NotNil(found.Card)
	s.Equal("4242", found.Card.Last4)

	dup, err := domain.NewOrderPaymentRecord(ulid.Make().String(), "ord-1", domain.MethodCash, 100, 0, 0, nil, "k1")
	s.Require().NoError(err)
	s.ErrorIs(s.store.Orders().ApplyPayment(s.ctx, dup), domain.ErrDuplicateIdempotencyKey)
}

func (s *StoreTestSuite) TestWithTx_RollsBack() {
	testhelpers.SeedOrder(s.T(), s.store, "ord-1", nil, 5000)
	boom := errors.New("boom")

	err := s.store.WithTx(s.ctx, func(tx application.Store) error {
		rec, err := domain.NewOrderPaymentRecord(ulid.Make().String(), "ord-1", domain.MethodCash, 1000, 0, 0, nil, "k1")
		if err != nil {
			return err
		}
		if err := tx.Orders().ApplyPayment(s.ctx, rec); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	payments, err := s.store.Orders().ListPayments(s.ctx, "ord-1")
	s.Require().NoError(err)
	s.Empty(payments)
}

func (s *StoreTestSuite) TestOutboxAndReversals() {
	ev := &domain.OutboxEvent{
		ID: uuid.NewString(), Type: domain.EventPaymentCompleted, AggregateID: "ord-1",
		Payload: []byte(`{"order_id":"ord-1"}`), CreatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.Outbox().Add(s.ctx, ev))

	var pending []*domain.OutboxEvent
	err := s.store.WithTx(s.ctx, func(tx application.Store) error {
		var err error
		pending, err = tx.Outbox().FetchUnpublished(s.ctx, 10)
		return err
	})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Require().NoError(s.store.Outbox().MarkPublished(s.ctx, ev.ID))

	now := time.Now().UTC()
	rev := &domain.Reversal{
		ID: uuid.NewString(), Kind: domain.ReversalVoid, TerminalID: "T1", Reference: "ref",
		AmountCents: 100, Status: domain.ReversalPending, NextRetryAt: now.Add(-time.Second),
		CreatedAt: now, UpdatedAt: now,
	}
	s.Require().NoError(s.store.Reversals().Create(s.ctx, rev))

	due, err := s.store.Reversals().FindDue(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)

	due[0].MarkDone()
	s.Require().NoError(s.store.Reversals().Update(s.ctx, due[0]))
	due, err = s.store.Reversals().FindDue(s.ctx, 10)
	s.Require().NoError(err)
	assert.Empty(s.T(), due)
}

func TestIsUniqueViolation_NonPgError(t *testing.T) {
	require.False(t, postgres.IsUniqueViolation(errors.New("plain")))
}
