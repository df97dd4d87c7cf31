package services_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *ServiceSuite) cash(orderID string, amountCents int64) *services.TenderReceipt {
	receipt, err := s.payments.ApplyTender(context.Background(), services.TenderCommand{
		OrderID:        orderID,
		TerminalID:     "T2",
		Method:         domain.MethodCash,
		AmountCents:    amountCents,
		IdempotencyKey: s.key("T2", orderID, amountCents),
	})
	require.NoError(s.T(), err)
	return receipt
}

func (s *ServiceSuite) Test_ApplyTender_CashWithChange() {
	t := s.T()
	s.seedOrder("ord-cash", 1800)

	receipt := s.cash("ord-cash", 2000)

	assert.Equal(t, int64(1800), receipt.AmountCents)
	assert.Equal(t, int64(200), receipt.ChangeGivenCents)
	assert.Equal(t, domain.OrderPaid, receipt.OrderStatus)
	assert.Zero(t, receipt.OutstandingCents)
}

func (s *ServiceSuite) Test_ApplyTender_PartialThenRest() {
	t := s.T()
	s.seedOrder("ord-part", 5000)

	first := s.cash("ord-part", 2000)
	assert.Equal(t, domain.OrderPartiallyPaid, first.OrderStatus)
	assert.Equal(t, int64(3000), first.OutstandingCents)

	second := s.cash("ord-part", 3000)
	assert.Equal(t, domain.OrderPaid, second.OrderStatus)
	assert.Len(t, s.store.Events(domain.EventOrderFullyPaid), 1)

	_, err := s.payments.ApplyTender(context.Background(), services.TenderCommand{
		OrderID:        "ord-part",
		TerminalID:     "T2",
		Method:         domain.MethodGiftCard,
		AmountCents:    100,
		IdempotencyKey: s.key("T2", "ord-part", 100),
	})
	require.ErrorIs(t, err, domain.ErrOrderAlreadyPaid)
}

func (s *ServiceSuite) Test_ApplyTender_ReplayReturnsCachedReceipt() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-replay", 1000)
	cmd := services.TenderCommand{
		OrderID:        "ord-replay",
		TerminalID:     "T2",
		Method:         domain.MethodCash,
		AmountCents:    500,
		IdempotencyKey: s.key("T2", "ord-replay", 500),
	}

	first, err := s.payments.ApplyTender(ctx, cmd)
	require.NoError(t, err)
	second, err := s.payments.ApplyTender(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.True(t, second.Replayed)
	assert.Len(t, s.store.Payments("ord-replay"), 1)
	assert.Equal(t, int64(500), testhelpers.MustOrder(t, s.store, "ord-replay").PaidCents)

	cmd.Method = domain.MethodGiftCard
	_, err = s.payments.ApplyTender(ctx, cmd)
	requireServiceCode(t, err, application.ErrCodeIdempotencyMismatch)
}

func (s *ServiceSuite) Test_ApplyTender_Validation() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-val", 1000)

	tests := []struct {
		name    string
		cmd     services.TenderCommand
		wantErr error
	}{
		{
			name:    "key issued for another amount",
			cmd:     services.TenderCommand{OrderID: "ord-val", TerminalID: "T2", Method: domain.MethodCash, AmountCents: 400, IdempotencyKey: s.key("T2", "ord-val", 500)},
			wantErr: domain.ErrMalformedIdempotencyKey,
		},
		{
			name:    "malformed key",
			cmd:     services.TenderCommand{OrderID: "ord-val", TerminalID: "T2", Method: domain.MethodCash, AmountCents: 400, IdempotencyKey: "not-a-key"},
			wantErr: domain.ErrMalformedIdempotencyKey,
		},
		{
			name:    "cash over tender ceiling",
			cmd:     services.TenderCommand{OrderID: "ord-val", TerminalID: "T2", Method: domain.MethodCash, AmountCents: 1600, IdempotencyKey: s.key("T2", "ord-val", 1600)},
			wantErr: domain.ErrAmountValidation,
		},
		{
			name:    "gift card over balance",
			cmd:     services.TenderCommand{OrderID: "ord-val", TerminalID: "T2", Method: domain.MethodGiftCard, AmountCents: 1200, IdempotencyKey: s.key("T2", "ord-val", 1200)},
			wantErr: domain.ErrAmountValidation,
		},
		{
			name: "partial card details",
			cmd: services.TenderCommand{
				OrderID: "ord-val", TerminalID: "T2", Method: domain.MethodCard, AmountCents: 300,
				Card:           &domain.CardDetails{AuthorizationRef: "REF1"},
				IdempotencyKey: s.key("T2", "ord-val", 300),
			},
			wantErr: domain.ErrPartialCardDetails,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.payments.ApplyTender(ctx, tt.cmd)
			require.ErrorIs(s.T(), err, tt.wantErr)
		})
	}
	assert.Empty(t, s.store.Payments("ord-val"))
}

func (s *ServiceSuite) Test_VoidPayment_CashReopensOrder() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-void", 1000)
	receipt := s.cash("ord-void", 1000)

	rec, err := s.payments.VoidPayment(ctx, services.VoidPaymentCommand{
		PaymentID:      receipt.PaymentID,
		Reason:         "wrong table",
		IdempotencyKey: "void-1",
	})
	require.NoError(t, err)
	assert.True(t, rec.IsVoided())

	order := testhelpers.MustOrder(t, s.store, "ord-void")
	assert.Equal(t, domain.OrderOpen, order.Status)
	assert.Zero(t, order.PaidCents)
	assert.Len(t, s.store.Events(domain.EventPaymentVoided), 1)
	assert.Empty(t, s.store.AllReversals())

	again, err := s.payments.VoidPayment(ctx, services.VoidPaymentCommand{PaymentID: receipt.PaymentID, IdempotencyKey: "void-1"})
	require.NoError(t, err)
	assert.True(t, again.IsVoided())

	_, err = s.payments.VoidPayment(ctx, services.VoidPaymentCommand{PaymentID: receipt.PaymentID, IdempotencyKey: "void-2"})
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyVoided)
}

func (s *ServiceSuite) Test_VoidPayment_CardVoidsAtProcessor() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-cv", 2000)
	intent := s.createIntent("ord-cv", 2000, domain.KindSale)
	done, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)

	_, err = s.payments.VoidPayment(ctx, services.VoidPaymentCommand{PaymentID: *done.PaymentID, IdempotencyKey: "void-card"})
	require.NoError(t, err)

	voids := s.terminal.Requests(application.RequestVoid)
	require.Len(t, voids, 1)
	assert.Equal(t, "REC-"+done.IdempotencyKey, voids[0].RecordNo)
	assert.Equal(t, int64(2000), voids[0].AmountCents)
	assert.NotEqual(t, done.IdempotencyKey, voids[0].Reference)

	reversals := s.store.AllReversals()
	require.Len(t, reversals, 1)
	assert.Equal(t, domain.ReversalDone, reversals[0].Status)
}

func (s *ServiceSuite) Test_VoidPayment_ChildReopensPaidParent() {
	ctx := context.Background()
	t := s.T()
	children := testhelpers.SeedSplitOrder(t, s.store, "split", 600, 400)

	first := s.cash(children[0], 600)
	s.cash(children[1], 400)
	require.Equal(t, domain.OrderPaid, testhelpers.MustOrder(t, s.store, "split").Status)

	_, err := s.payments.VoidPayment(ctx, services.VoidPaymentCommand{PaymentID: first.PaymentID, IdempotencyKey: "void-child"})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPartiallyPaid, testhelpers.MustOrder(t, s.store, "split").Status)
	assert.Equal(t, domain.OrderOpen, testhelpers.MustOrder(t, s.store, children[0]).Status)
}

func (s *ServiceSuite) Test_RefundPayment() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-ref", 1000)
	receipt := s.cash("ord-ref", 1000)

	rec, err := s.payments.RefundPayment(ctx, services.RefundPaymentCommand{
		PaymentID:      receipt.PaymentID,
		AmountCents:    300,
		IdempotencyKey: "refund-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), rec.RefundedAmountCents)

	order := testhelpers.MustOrder(t, s.store, "ord-ref")
	assert.Equal(t, int64(700), order.PaidCents)
	assert.Equal(t, domain.OrderPartiallyPaid, order.Status)
	assert.Len(t, s.store.Events(domain.EventPaymentRefunded), 1)

	_, err = s.payments.RefundPayment(ctx, services.RefundPaymentCommand{
		PaymentID:      receipt.PaymentID,
		AmountCents:    800,
		IdempotencyKey: "refund-2",
	})
	require.ErrorIs(t, err, domain.ErrRefundExceedsPayment)

	_, err = s.payments.RefundPayment(ctx, services.RefundPaymentCommand{
		PaymentID:      receipt.PaymentID,
		AmountCents:    200,
		IdempotencyKey: "refund-1",
	})
	requireServiceCode(t, err, application.ErrCodeIdempotencyMismatch)
}

func (s *ServiceSuite) Test_RefundPayment_CardRefundsCarryTheirOwnReference() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-pr", 5000)
	intent := s.createIntent("ord-pr", 5000, domain.KindSale)
	done, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)

	var refunds atomic.Int32
	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		if req.Type == application.RequestRefund && refunds.Add(1) == 1 {
			return nil, &application.TerminalError{Kind: application.TerminalNetwork, Retryable: true, Message: "connection reset"}
		}
		return testhelpers.Approve(req), nil
	}

	_, err = s.payments.RefundPayment(ctx, services.RefundPaymentCommand{PaymentID: *done.PaymentID, AmountCents: 1000, IdempotencyKey: "refund-a"})
	require.NoError(t, err)
	_, err = s.payments.RefundPayment(ctx, services.RefundPaymentCommand{PaymentID: *done.PaymentID, AmountCents: 2000, IdempotencyKey: "refund-b"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _ = s.reverser.ProcessDue(ctx, 10)
		for _, rev := range s.store.AllReversals() {
			if rev.Status != domain.ReversalDone {
				return false
			}
		}
		return true
	}, time.Second, 20*time.Millisecond)

	sale := s.terminal.Requests(application.RequestSale)
	require.Len(t, sale, 1)
	sent := s.terminal.Requests(application.RequestRefund)
	require.Len(t, sent, 3)

	first, second, retried := sent[0], sent[1], sent[2]
	assert.Equal(t, int64(1000), first.AmountCents)
	assert.Equal(t, int64(2000), second.AmountCents)
	assert.Equal(t, first.Reference, retried.Reference, "a retried refund keeps its reference")
	assert.Equal(t, first.AmountCents, retried.AmountCents)

	assert.NotEqual(t, sale[0].Reference, first.Reference)
	assert.NotEqual(t, sale[0].Reference, second.Reference)
	assert.NotEqual(t, first.Reference, second.Reference)
	for _, req := range sent {
		assert.Equal(t, "REC-"+done.IdempotencyKey, req.RecordNo)
	}
}

func (s *ServiceSuite) Test_CreateOrder_ChildNeedsParent() {
	ctx := context.Background()
	t := s.T()
	parent := "nope"

	_, err := s.payments.CreateOrder(ctx, services.CreateOrderCommand{OrderID: "child", ParentID: &parent, TotalCents: 100})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = s.payments.CreateOrder(ctx, services.CreateOrderCommand{OrderID: "root", TotalCents: 100})
	require.NoError(t, err)
	parent = "root"
	child, err := s.payments.CreateOrder(ctx, services.CreateOrderCommand{OrderID: "child", ParentID: &parent, TotalCents: 100})
	require.NoError(t, err)
	assert.Equal(t, "root", *child.ParentID)
}
