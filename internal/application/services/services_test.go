package services_test

import (
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/lock"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/testhelpers"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ServiceSuite wires every service against the in-memory store, a fake
// terminal and the in-process order lock.
type ServiceSuite struct {
	suite.Suite
	store    *testhelpers.MemoryStore
	terminal *testhelpers.FakeTerminal
	ledger   *services.IdempotencyLedger
	reverser *services.Reverser
	intents  *services.IntentService
	payments *services.PaymentService
	sync     *services.SyncService
}

func (s *ServiceSuite) SetupTest() {
	logger := testhelpers.DiscardLogger()
	policy := domain.NewTenderPolicy(1.5, 1)
	locker := lock.NewLocalLocker()

	s.store = testhelpers.NewMemoryStore()
	s.terminal = testhelpers.NewFakeTerminal()
	s.ledger = services.NewIdempotencyLedger(s.store, time.Minute, 300*time.Millisecond)

	reconciler := services.NewReconciler(s.store, locker, policy, nil, logger)
	s.reverser = services.NewReverser(s.store, s.terminal, locker, services.ReverserConfig{
		BaseBackoff:  10 * time.Millisecond,
		MaxBackoff:   100 * time.Millisecond,
		MaxAttempts:  3,
		SettleWindow: time.Minute,
	}, nil, logger)

	s.intents = services.NewIntentService(s.store, s.terminal, s.ledger, reconciler, s.reverser, policy, services.IntentConfig{
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  100 * time.Millisecond,
		MaxAttempts:    3,
	}, nil, logger)
	s.payments = services.NewPaymentService(s.store, s.ledger, reconciler, s.reverser, nil, logger)
	s.sync = services.NewSyncService(s.store, s.ledger, reconciler, nil, logger)
}

// intentsWithLease builds an intent service over the suite's store and
// terminal whose idempotency lease expires after lease.
func (s *ServiceSuite) intentsWithLease(lease time.Duration) *services.IntentService {
	logger := testhelpers.DiscardLogger()
	policy := domain.NewTenderPolicy(1.5, 1)
	ledger := services.NewIdempotencyLedger(s.store, lease, 300*time.Millisecond)
	reconciler := services.NewReconciler(s.store, lock.NewLocalLocker(), policy, nil, logger)
	return services.NewIntentService(s.store, s.terminal, ledger, reconciler, s.reverser, policy, services.IntentConfig{
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  100 * time.Millisecond,
		MaxAttempts:    3,
	}, nil, logger)
}

func (s *ServiceSuite) seedOrder(id string, totalCents int64) {
	testhelpers.SeedOrder(s.T(), s.store, id, nil, totalCents)
}

func (s *ServiceSuite) key(terminalID, orderID string, amountCents int64) string {
	key, err := domain.NewIdempotencyKey(terminalID, orderID, amountCents, time.Now())
	require.NoError(s.T(), err)
	return key
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
