package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/application/services"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *ServiceSuite) createIntent(orderID string, amountCents int64, kind domain.IntentKind) *domain.PaymentIntent {
	intent, err := s.intents.Create(context.Background(), services.CreateIntentCommand{
		OrderID:     orderID,
		TerminalID:  "T1",
		AmountCents: amountCents,
		Kind:        kind,
	})
	require.NoError(s.T(), err)
	return intent
}

func requireServiceCode(t require.TestingT, err error, code string) *application.ServiceError {
	require.Error(t, err)
	svcErr, ok := application.IsServiceError(err)
	require.True(t, ok, "expected service error, got %v", err)
	require.Equal(t, code, svcErr.Code)
	return svcErr
}

// ============================================================================
// HAPPY PATH TESTS
// ============================================================================

func (s *ServiceSuite) Test_Authorize_Sale_CompletesAndPaysOrder() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-1", 4250)
	intent := s.createIntent("ord-1", 4250, domain.KindSale)

	result, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)

	assert.Equal(t, domain.StateCompleted, result.State)
	require.NotNil(t, result.PaymentID)

	payments := s.store.Payments("ord-1")
	require.Len(t, payments, 1)
	assert.Equal(t, *result.PaymentID, payments[0].ID)
	assert.Equal(t, domain.MethodCard, payments[0].Method)
	assert.Equal(t, "REC-"+result.IdempotencyKey, payments[0].Card.AuthorizationRef)
	assert.Equal(t, intent.ID, *payments[0].IntentID)

	order := testhelpers.MustOrder(t, s.store, "ord-1")
	assert.Equal(t, domain.OrderPaid, order.Status)
	assert.Equal(t, int64(4250), order.PaidCents)

	assert.Len(t, s.store.Events(domain.EventPaymentCompleted), 1)
	assert.Len(t, s.store.Events(domain.EventOrderFullyPaid), 1)
}

func (s *ServiceSuite) Test_Authorize_PreAuthWithTip_CapturesTip() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-tip", 4000)
	intent := s.createIntent("ord-tip", 4000, domain.KindPreAuth)

	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		if req.Type == application.RequestGetTip {
			return &domain.AuthorizationResult{Success: true, ResponseCode: "000000", TipCents: 600}, nil
		}
		return testhelpers.Approve(req), nil
	}

	result, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID, PromptTip: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, result.State)
	assert.NotNil(t, result.CapturedAt)

	preauths := s.terminal.Requests(application.RequestPreAuth)
	require.Len(t, preauths, 1)
	assert.Equal(t, int64(600), preauths[0].TipCents)

	captures := s.terminal.Requests(application.RequestCapture)
	require.Len(t, captures, 1)
	assert.Equal(t, "REC-"+result.IdempotencyKey, captures[0].RecordNo)
	assert.Equal(t, int64(4000), captures[0].AmountCents)
	assert.Equal(t, int64(600), captures[0].TipCents)

	payments := s.store.Payments("ord-tip")
	require.Len(t, payments, 1)
	assert.Equal(t, int64(4000), payments[0].AmountCents)
	assert.Equal(t, int64(600), payments[0].TipCents)
}

func (s *ServiceSuite) Test_Authorize_SignatureRequired_CollectsSignature() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-sig", 2000)
	intent := s.createIntent("ord-sig", 2000, domain.KindSale)

	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		res := testhelpers.Approve(req)
		if req.Type == application.RequestSale {
			res.SignatureRequired = true
		}
		return res, nil
	}

	result, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, result.State)
	assert.True(t, result.SignatureCaptured)
	assert.Equal(t, 1, s.terminal.Calls(application.RequestGetSignature))
	assert.Len(t, s.store.Payments("ord-sig"), 1)
}

func (s *ServiceSuite) Test_Create_SameIntentID_ReturnsExisting() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-dup", 1000)
	cmd := services.CreateIntentCommand{IntentID: "intent-1", OrderID: "ord-dup", TerminalID: "T1", AmountCents: 1000}

	first, err := s.intents.Create(ctx, cmd)
	require.NoError(t, err)
	second, err := s.intents.Create(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	cmd.AmountCents = 900
	_, err = s.intents.Create(ctx, cmd)
	requireServiceCode(t, err, application.ErrCodeIdempotencyMismatch)
}

// ============================================================================
// RETRY & RECOVERY TESTS
// ============================================================================

func (s *ServiceSuite) Test_Authorize_TimeoutsThenApproval_ChargesOnce() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-42", 4250)
	intent := s.createIntent("ord-42", 4250, domain.KindSale)

	var sales atomic.Int32
	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		if req.Type == application.RequestSale && sales.Add(1) <= 2 {
			return nil, testhelpers.Timeout()
		}
		return testhelpers.Approve(req), nil
	}

	var key string
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID, IdempotencyKey: key})
		svcErr := requireServiceCode(t, err, application.ErrCodeTerminalFailure)
		assert.Equal(t, "true", svcErr.Details["retryable"])
		key = svcErr.Details["idempotency_key"]
		require.NotEmpty(t, key)

		stored := testhelpers.MustIntent(t, s.store, intent.ID)
		assert.True(t, stored.NeedsReconciliation)
		assert.Equal(t, domain.StateTokenizing, stored.State)
	}

	result, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID, IdempotencyKey: key})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, result.State)

	sent := s.terminal.Requests(application.RequestSale)
	require.Len(t, sent, 3)
	for _, req := range sent {
		assert.Equal(t, key, req.Reference)
	}

	assert.Len(t, s.store.Payments("ord-42"), 1)
	order := testhelpers.MustOrder(t, s.store, "ord-42")
	assert.Equal(t, int64(4250), order.PaidCents)
	assert.Equal(t, domain.OrderPaid, order.Status)
}

func (s *ServiceSuite) Test_Authorize_CompletedIntent_ReplaysWithoutTerminal() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-r", 1500)
	intent := s.createIntent("ord-r", 1500, domain.KindSale)

	first, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)

	second, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID, IdempotencyKey: first.IdempotencyKey})
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, 1, s.terminal.Calls(application.RequestSale))
	assert.Len(t, s.store.Payments("ord-r"), 1)

	_, err = s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID, IdempotencyKey: "T1|ord-r|1500|1|other"})
	requireServiceCode(t, err, application.ErrCodeIdempotencyMismatch)
}

func (s *ServiceSuite) Test_Authorize_ConcurrentDuplicate_GetsRequestProcessing() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-busy", 1000)
	intent := s.createIntent("ord-busy", 1000, domain.KindSale)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		once.Do(func() { close(started) })
		<-release
		return testhelpers.Approve(req), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
		done <- err
	}()
	<-started

	_, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	requireServiceCode(t, err, application.ErrCodeRequestProcessing)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.terminal.Calls(application.RequestSale))
}

func (s *ServiceSuite) Test_Recover_UnknownOutcome_ResolvedByStatusCheck() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-rec", 3000)
	intent := s.createIntent("ord-rec", 3000, domain.KindSale)

	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		if req.Type == application.RequestSale {
			return nil, testhelpers.Timeout()
		}
		return testhelpers.Approve(req), nil
	}
	_, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.Error(t, err)

	require.NoError(t, s.intents.Recover(ctx, intent.ID))

	stored := testhelpers.MustIntent(t, s.store, intent.ID)
	assert.Equal(t, domain.StateCompleted, stored.State)
	assert.Equal(t, 1, s.terminal.Calls(application.RequestSale))
	assert.Equal(t, 1, s.terminal.Calls(application.RequestStatusCheck))
	assert.Len(t, s.store.Payments("ord-rec"), 1)
}

func (s *ServiceSuite) Test_Recover_NotFoundOnTerminal_FailsSafely() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-nf", 3000)
	intent := s.createIntent("ord-nf", 3000, domain.KindSale)

	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		switch req.Type {
		case application.RequestSale:
			return nil, testhelpers.Timeout()
		case application.RequestStatusCheck:
			return &domain.AuthorizationResult{ResponseCode: application.ResponseCodeNotFound}, nil
		}
		return testhelpers.Approve(req), nil
	}
	_, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.Error(t, err)

	require.NoError(t, s.intents.Recover(ctx, intent.ID))

	stored := testhelpers.MustIntent(t, s.store, intent.ID)
	assert.Equal(t, domain.StateFailed, stored.State)
	assert.Empty(t, s.store.Payments("ord-nf"))
	assert.Equal(t, domain.OrderOpen, testhelpers.MustOrder(t, s.store, "ord-nf").Status)
}

// ============================================================================
// DECLINE & FAILURE TESTS
// ============================================================================

func (s *ServiceSuite) Test_Authorize_Declined_FailsWithoutPayment() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-d", 1000)
	intent := s.createIntent("ord-d", 1000, domain.KindSale)

	s.terminal.SendFn = func(_ context.Context, _ application.TerminalRequest) (*domain.AuthorizationResult, error) {
		return nil, testhelpers.Decline("insufficient funds")
	}

	result, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, result.State)
	require.NotNil(t, result.Authorization)
	assert.Equal(t, "insufficient funds", *result.Authorization.DeclineReason)
	assert.Empty(t, s.store.Payments("ord-d"))

	again, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, again.State)
	assert.Equal(t, 1, s.terminal.Calls(application.RequestSale))
}

func (s *ServiceSuite) Test_Authorize_OrderPaidMeanwhile_VoidsApproval() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-paid", 2500)
	intent := s.createIntent("ord-paid", 2500, domain.KindSale)

	_, err := s.payments.ApplyTender(ctx, services.TenderCommand{
		OrderID:        "ord-paid",
		TerminalID:     "T2",
		Method:         domain.MethodCash,
		AmountCents:    2500,
		IdempotencyKey: s.key("T2", "ord-paid", 2500),
	})
	require.NoError(t, err)

	_, err = s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.ErrorIs(t, err, domain.ErrOrderAlreadyPaid)

	stored := testhelpers.MustIntent(t, s.store, intent.ID)
	assert.Equal(t, domain.StateFailed, stored.State)

	voids := s.terminal.Requests(application.RequestVoid)
	require.Len(t, voids, 1)
	assert.Equal(t, "REC-"+stored.IdempotencyKey, voids[0].RecordNo)
	assert.Len(t, s.store.Payments("ord-paid"), 1)
}

func (s *ServiceSuite) Test_Authorize_SignatureRefused_CancelsAndVoids() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-nosig", 2000)
	intent := s.createIntent("ord-nosig", 2000, domain.KindSale)

	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		switch req.Type {
		case application.RequestSale:
			res := testhelpers.Approve(req)
			res.SignatureRequired = true
			return res, nil
		case application.RequestGetSignature:
			return nil, testhelpers.Decline("guest refused to sign")
		}
		return testhelpers.Approve(req), nil
	}

	result, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, result.State)
	assert.Equal(t, 1, s.terminal.Calls(application.RequestVoid))
	assert.Empty(t, s.store.Payments("ord-nosig"))
}

// ============================================================================
// VALIDATION TESTS
// ============================================================================

func (s *ServiceSuite) Test_Create_NegativeAmount_RejectedBeforeTerminal() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-neg", 1000)

	_, err := s.intents.Create(ctx, services.CreateIntentCommand{OrderID: "ord-neg", TerminalID: "T1", AmountCents: -500})
	require.ErrorIs(t, err, domain.ErrAmountValidation)

	_, err = s.intents.Create(ctx, services.CreateIntentCommand{OrderID: "ord-neg", TerminalID: "T1", AmountCents: 5000})
	require.ErrorIs(t, err, domain.ErrAmountValidation)

	assert.Zero(t, s.terminal.Calls())
	assert.Empty(t, s.store.Payments("ord-neg"))
}

func (s *ServiceSuite) Test_Create_UnknownOrder() {
	_, err := s.intents.Create(context.Background(), services.CreateIntentCommand{OrderID: "missing", TerminalID: "T1", AmountCents: 100})
	require.ErrorIs(s.T(), err, domain.ErrOrderNotFound)
}

// ============================================================================
// CANCEL TESTS
// ============================================================================

func (s *ServiceSuite) Test_Cancel_CreatedIntent_NoVoid() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-c", 1000)
	intent := s.createIntent("ord-c", 1000, domain.KindSale)

	result, err := s.intents.Cancel(ctx, services.CancelIntentCommand{IntentID: intent.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, result.State)
	assert.Empty(t, s.store.AllReversals())
	assert.Zero(t, s.terminal.Calls())

	_, err = s.intents.Cancel(ctx, services.CancelIntentCommand{IntentID: intent.ID})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func (s *ServiceSuite) Test_Cancel_DuringSale_VoidsLateApprovalOnce() {
	ctx := context.Background()
	t := s.T()
	s.seedOrder("ord-race", 4250)
	intent := s.createIntent("ord-race", 4250, domain.KindSale)

	saleStarted := make(chan struct{})
	release := make(chan struct{})
	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		switch req.Type {
		case application.RequestSale:
			close(saleStarted)
			<-release
			return testhelpers.Approve(req), nil
		case application.RequestStatusCheck:
			return &domain.AuthorizationResult{ResponseCode: application.ResponseCodeNotFound}, nil
		}
		return testhelpers.Approve(req), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
		done <- err
	}()
	<-saleStarted

	cancelled, err := s.intents.Cancel(ctx, services.CancelIntentCommand{IntentID: intent.ID, Reason: "guest left"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, cancelled.State)

	close(release)
	requireServiceCode(t, <-done, application.ErrCodeStateChanged)

	stored := testhelpers.MustIntent(t, s.store, intent.ID)
	assert.Equal(t, domain.StateCancelled, stored.State)
	assert.Empty(t, s.store.Payments("ord-race"))

	voids := s.terminal.Requests(application.RequestVoid)
	require.Len(t, voids, 1)
	assert.Equal(t, "REC-"+stored.IdempotencyKey, voids[0].RecordNo)

	reversals := s.store.AllReversals()
	require.Len(t, reversals, 1)
	assert.Equal(t, domain.ReversalDone, reversals[0].Status)
}

func (s *ServiceSuite) Test_Recover_TakesExpiredLease_VoidsLateApproval() {
	ctx := context.Background()
	t := s.T()
	intents := s.intentsWithLease(50 * time.Millisecond)
	s.seedOrder("ord-lease", 3100)
	intent, err := intents.Create(ctx, services.CreateIntentCommand{
		OrderID: "ord-lease", TerminalID: "T1", AmountCents: 3100, Kind: domain.KindSale,
	})
	require.NoError(t, err)

	saleStarted := make(chan struct{})
	release := make(chan struct{})
	s.terminal.SendFn = func(_ context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
		switch req.Type {
		case application.RequestSale:
			close(saleStarted)
			<-release
			return testhelpers.Approve(req), nil
		case application.RequestStatusCheck:
			return &domain.AuthorizationResult{ResponseCode: application.ResponseCodeNotFound}, nil
		}
		return testhelpers.Approve(req), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
		done <- err
	}()
	<-saleStarted

	time.Sleep(120 * time.Millisecond)
	require.NoError(t, intents.Recover(ctx, intent.ID))
	require.Equal(t, domain.StateFailed, testhelpers.MustIntent(t, s.store, intent.ID).State)
	assert.Zero(t, s.terminal.Calls(application.RequestVoid))

	close(release)
	requireServiceCode(t, <-done, application.ErrCodeStateChanged)

	stored := testhelpers.MustIntent(t, s.store, intent.ID)
	assert.Equal(t, domain.StateFailed, stored.State)
	assert.Empty(t, s.store.Payments("ord-lease"))

	voids := s.terminal.Requests(application.RequestVoid)
	require.Len(t, voids, 1)
	assert.Equal(t, "REC-"+stored.IdempotencyKey, voids[0].RecordNo)
	assert.NotEqual(t, stored.IdempotencyKey, voids[0].Reference)

	reversals := s.store.AllReversals()
	require.Len(t, reversals, 1)
	assert.Equal(t, domain.ReversalDone, reversals[0].Status)
}

// ============================================================================
// SPLIT ORDER TESTS
// ============================================================================

func (s *ServiceSuite) Test_SplitOrder_ConcurrentChildren_FinalizeParentOnce() {
	ctx := context.Background()
	t := s.T()
	children := testhelpers.SeedSplitOrder(t, s.store, "table9", 1000, 2000, 3000)

	var wg sync.WaitGroup
	errs := make(chan error, len(children))
	for i, child := range children {
		wg.Add(1)
		go func(terminal, orderID string, amount int64) {
			defer wg.Done()
			intent, err := s.intents.Create(ctx, services.CreateIntentCommand{
				OrderID: orderID, TerminalID: terminal, AmountCents: amount,
			})
			if err != nil {
				errs <- err
				return
			}
			_, err = s.intents.Authorize(ctx, services.AuthorizeCommand{IntentID: intent.ID})
			errs <- err
		}("T"+string(rune('1'+i)), child, int64(1000*(i+1)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	parent := testhelpers.MustOrder(t, s.store, "table9")
	assert.Equal(t, domain.OrderPaid, parent.Status)

	var parentEvents int
	for _, ev := range s.store.Events(domain.EventOrderFullyPaid) {
		if ev.AggregateID == "table9" {
			parentEvents++
		}
	}
	assert.Equal(t, 1, parentEvents)
	for _, child := range children {
		assert.Equal(t, domain.OrderPaid, testhelpers.MustOrder(t, s.store, child).Status)
		assert.Len(t, s.store.Payments(child), 1)
	}
}
