package services_test

import (
	"context"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *ServiceSuite) offlineCash(orderID string, amountCents int64) services.SyncCommand {
	return services.SyncCommand{
		LocalID: "T3-001",
		Payment: domain.OfflinePayment{
			IdempotencyKey: s.key("T3", orderID, amountCents),
			OrderID:        orderID,
			TerminalID:     "T3",
			Method:         domain.MethodCash,
			AmountCents:    amountCents,
			CapturedAt:     time.Now().UTC(),
		},
	}
}

func (s *ServiceSuite) Test_Sync_ReplayReturnsSameServerID() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-sync", 1500)
	cmd := s.offlineCash("ord-sync", 1500)

	first, err := s.sync.Apply(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, services.SyncStatusApplied, first.Status)
	assert.NotEmpty(t, first.ServerID)

	second, err := s.sync.Apply(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ServerID, second.ServerID)
	assert.Equal(t, services.SyncStatusDuplicate, second.Status)

	payments := s.store.Payments("ord-sync")
	require.Len(t, payments, 1)
	assert.Equal(t, "T3-001", *payments[0].LocalID)
	assert.Equal(t, domain.OrderPaid, testhelpers.MustOrder(t, s.store, "ord-sync").Status)
}

func (s *ServiceSuite) Test_Sync_OfflineCardIsFlagged() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-oc", 2200)
	cmd := services.SyncCommand{
		LocalID: "T3-002",
		Payment: domain.OfflinePayment{
			IdempotencyKey: s.key("T3", "ord-oc", 2200),
			OrderID:        "ord-oc",
			TerminalID:     "T3",
			Method:         domain.MethodCard,
			AmountCents:    2200,
			Card: &domain.CardDetails{
				AuthorizationRef: "OFF-1", CardBrand: "MC", Last4: "5454", AuthCode: "X1",
			},
		},
	}

	_, err := s.sync.Apply(ctx, cmd)
	require.NoError(t, err)

	payments := s.store.Payments("ord-oc")
	require.Len(t, payments, 1)
	assert.True(t, payments[0].IsOfflineCapture)
}

func (s *ServiceSuite) Test_Sync_UnknownOrderCanBeRetried() {
	ctx := context.Background()
	t := s.T()
	cmd := s.offlineCash("ord-later", 800)

	_, err := s.sync.Apply(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	s.seedOrder("ord-later", 800)
	result, err := s.sync.Apply(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, services.SyncStatusApplied, result.Status)
}

func (s *ServiceSuite) Test_Sync_RejectsInvalidPayload() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-bad", 1000)

	cmd := s.offlineCash("ord-bad", 500)
	cmd.LocalID = ""
	_, err := s.sync.Apply(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrMissingRequiredField)

	cmd = s.offlineCash("ord-bad", 500)
	cmd.Payment.AmountCents = 600
	_, err = s.sync.Apply(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrMalformedIdempotencyKey)

	cmd = s.offlineCash("ord-bad", 500)
	cmd.Payment.AmountCents = -500
	_, err = s.sync.Apply(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrAmountValidation)

	assert.Empty(t, s.store.Payments("ord-bad"))
}
