package services_test

import (
	"context"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *ServiceSuite) queueReversal(rev *domain.Reversal) {
	require.NoError(s.T(), s.store.Reversals().Create(context.Background(), rev))
}

func (s *ServiceSuite) cardIntent(key string, auth bool) *domain.PaymentIntent {
	intent, err := domain.NewPaymentIntent("intent-"+key, "ord-x", "T1", 1000, 0, domain.KindSale)
	require.NoError(s.T(), err)
	intent.IdempotencyKey = key
	if auth {
		intent.Authorization = &domain.AuthorizationResult{Success: true, ReferenceNumber: "REC-" + key}
	}
	return intent
}

func (s *ServiceSuite) Test_Reverser_RetriesThenCompletes() {
	ctx := context.Background()
	t := s.T()

	calls := 0
	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		calls++
		if calls == 1 {
			return nil, &application.TerminalError{Kind: application.TerminalNetwork, Retryable: true, Message: "connection refused"}
		}
		return &domain.AuthorizationResult{Success: true, ReferenceNumber: req.RecordNo}, nil
	}

	rev := services.NewIntentReversal(s.cardIntent("k-retry", true))
	s.queueReversal(rev)

	require.NoError(t, s.reverser.Attempt(ctx, rev.ID))
	stored, err := s.store.Reversals().FindByID(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReversalPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)

	require.Eventually(t, func() bool {
		n, err := s.reverser.ProcessDue(ctx, 10)
		return err == nil && n == 1
	}, time.Second, 20*time.Millisecond)

	stored, err = s.store.Reversals().FindByID(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReversalDone, stored.Status)
	assert.Equal(t, 2, s.terminal.Calls(application.RequestVoid))
}

func (s *ServiceSuite) Test_Reverser_PermanentFailureGoesManual() {
	ctx := context.Background()
	t := s.T()

	s.terminal.SendFn = func(_ context.Context, _ application.TerminalRequest) (*domain.AuthorizationResult, error) {
		return nil, &application.TerminalError{Kind: application.TerminalProtocol, Message: "bad signature"}
	}

	rev := services.NewIntentReversal(s.cardIntent("k-manual", true))
	s.queueReversal(rev)

	require.NoError(t, s.reverser.Attempt(ctx, rev.ID))

	stored, err := s.store.Reversals().FindByID(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReversalManual, stored.Status)

	n, err := s.reverser.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (s *ServiceSuite) Test_Reverser_UnknownReferenceResolvedByStatusCheck() {
	ctx := context.Background()
	t := s.T()

	rev := services.NewIntentReversal(s.cardIntent("k-lookup", false))
	require.Empty(t, rev.RecordNo)
	s.queueReversal(rev)

	require.NoError(t, s.reverser.Attempt(ctx, rev.ID))

	assert.Equal(t, 1, s.terminal.Calls(application.RequestStatusCheck))
	voids := s.terminal.Requests(application.RequestVoid)
	require.Len(t, voids, 1)
	assert.Equal(t, "REC-k-lookup", voids[0].RecordNo)
}

func (s *ServiceSuite) Test_Reverser_NotFoundAfterSettleWindowIsDone() {
	ctx := context.Background()
	t := s.T()

	s.terminal.SendFn = func(_ context.Context, _ application.TerminalRequest) (*domain.AuthorizationResult, error) {
		return &domain.AuthorizationResult{ResponseCode: application.ResponseCodeNotFound}, nil
	}

	rev := services.NewIntentReversal(s.cardIntent("k-none", false))
	rev.CreatedAt = time.Now().Add(-2 * time.Minute)
	s.queueReversal(rev)

	require.NoError(t, s.reverser.Attempt(ctx, rev.ID))

	stored, err := s.store.Reversals().FindByID(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReversalDone, stored.Status)
	assert.Zero(t, s.terminal.Calls(application.RequestVoid))
}
