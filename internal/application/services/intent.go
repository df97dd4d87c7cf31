package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
	"github.com/google/uuid"
)

type IntentConfig struct {
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxAttempts bounds how often the recovery sweep retries one intent
	// before handing it to manual reconciliation.
	MaxAttempts int
}

// IntentService drives payment intents through the terminal and into the
// order ledger. Every step is persisted with a compare-and-set on the
// intent's generation, so the same driver serves live requests and the
// recovery sweep.
type IntentService struct {
	store      application.Store
	terminal   application.TerminalClient
	ledger     *IdempotencyLedger
	reconciler *Reconciler
	reverser   *Reverser
	policy     domain.TenderPolicy
	cfg        IntentConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewIntentService(
	store application.Store,
	terminal application.TerminalClient,
	ledger *IdempotencyLedger,
	reconciler *Reconciler,
	reverser *Reverser,
	policy domain.TenderPolicy,
	cfg IntentConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IntentService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &IntentService{
		store:      store,
		terminal:   terminal,
		ledger:     ledger,
		reconciler: reconciler,
		reverser:   reverser,
		policy:     policy,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

type driveOptions struct {
	promptTip bool
	recovery  bool
}

// intentReceipt is the outcome cached in the idempotency ledger.
type intentReceipt struct {
	IntentID  string             `json:"intent_id"`
	State     domain.IntentState `json:"state"`
	PaymentID *string            `json:"payment_id,omitempty"`
}

type intentFingerprint struct {
	IntentID    string            `json:"intent_id"`
	OrderID     string            `json:"order_id"`
	TerminalID  string            `json:"terminal_id"`
	AmountCents int64             `json:"amount_cents"`
	Kind        domain.IntentKind `json:"kind"`
}

func intentHash(i *domain.PaymentIntent) string {
	return ComputeHash(intentFingerprint{
		IntentID:    i.ID,
		OrderID:     i.OrderID,
		TerminalID:  i.TerminalID,
		AmountCents: i.AmountCents,
		Kind:        i.Kind,
	})
}

// Create validates the amount against the order before anything reaches a
// terminal. Creating an intent twice with the same ID and parameters returns
// the stored intent.
func (s *IntentService) Create(ctx context.Context, cmd CreateIntentCommand) (*domain.PaymentIntent, error) {
	id := cmd.IntentID
	if id == "" {
		id = uuid.NewString()
	}

	intent, err := domain.NewPaymentIntent(id, cmd.OrderID, cmd.TerminalID, cmd.AmountCents, cmd.TipCents, cmd.Kind)
	if err != nil {
		return nil, err
	}

	if cmd.IntentID != "" {
		existing, err := s.store.Intents().FindByID(ctx, cmd.IntentID)
		switch {
		case err == nil:
			if intentHash(existing) != intentHash(intent) {
				return nil, application.NewIdempotencyMismatchError()
			}
			return existing, nil
		case !errors.Is(err, domain.ErrIntentNotFound):
			return nil, application.NewInternalError(err)
		}
	}

	order, err := s.store.Orders().GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := order.CheckPayable(); err != nil {
		return nil, err
	}
	if _, _, err := s.policy.Apply(domain.MethodCard, intent.AmountCents, order.OutstandingCents()); err != nil {
		return nil, err
	}

	if err := s.store.Intents().Create(ctx, intent); err != nil {
		return nil, application.NewInternalError(err)
	}
	s.metrics.IncIntentTransition(string(intent.State))
	s.logger.Info("payment intent created",
		"intent_id", intent.ID,
		"order_id", intent.OrderID,
		"terminal_id", intent.TerminalID,
		"amount_cents", intent.AmountCents,
		"kind", intent.Kind,
	)
	return intent, nil
}

func (s *IntentService) Get(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	return s.store.Intents().FindByID(ctx, intentID)
}

// Authorize runs the intent as far as it can go. A retryable terminal failure
// returns an error carrying the intent's idempotency key; calling Authorize
// again resends the same reference so the device can deduplicate.
func (s *IntentService) Authorize(ctx context.Context, cmd AuthorizeCommand) (*domain.PaymentIntent, error) {
	intent, err := s.store.Intents().FindByID(ctx, cmd.IntentID)
	if err != nil {
		return nil, err
	}
	if cmd.IdempotencyKey != "" && intent.IdempotencyKey != "" && cmd.IdempotencyKey != intent.IdempotencyKey {
		return nil, application.NewIdempotencyMismatchError()
	}

	switch intent.State {
	case domain.StateCompleted, domain.StateFailed:
		return intent, nil
	case domain.StateCancelled:
		return intent, domain.NewInvalidTransitionError(intent.State, domain.StateTokenizing)
	case domain.StateCreated:
		key, err := domain.NewIdempotencyKey(intent.TerminalID, intent.OrderID, intent.AmountCents, time.Now())
		if err != nil {
			return nil, err
		}
		if err := intent.BeginTokenizing(key); err != nil {
			return nil, err
		}
		if err := s.save(ctx, intent); err != nil {
			return nil, s.saveError(err)
		}
	}

	res, err := s.ledger.Reserve(ctx, intent.IdempotencyKey, intent.ID, intentHash(intent))
	if err != nil {
		return intent, err
	}
	if res.Status == domain.ReservationCompleted {
		return s.store.Intents().FindByID(ctx, intent.ID)
	}

	// Someone may have moved the intent while the key was held elsewhere.
	intent, err = s.store.Intents().FindByID(ctx, intent.ID)
	if err != nil {
		_ = s.ledger.Release(ctx, res.Key)
		return nil, err
	}
	return s.drive(ctx, intent, driveOptions{promptTip: cmd.PromptTip})
}

// Recover resumes an intent found in flight by the recovery sweep. Keys held
// by a live request are skipped.
func (s *IntentService) Recover(ctx context.Context, intentID string) error {
	intent, err := s.store.Intents().FindByID(ctx, intentID)
	if err != nil {
		return err
	}
	if !intent.State.IsInFlight() {
		return nil
	}

	res, err := s.ledger.TryReserve(ctx, intent.IdempotencyKey, intent.ID, intentHash(intent))
	if err != nil {
		if svcErr, ok := application.IsServiceError(err); ok && svcErr.Code == application.ErrCodeRequestProcessing {
			return nil
		}
		return err
	}
	if res.Status == domain.ReservationCompleted {
		return nil
	}

	intent, err = s.store.Intents().FindByID(ctx, intentID)
	if err != nil {
		_ = s.ledger.Release(ctx, res.Key)
		return err
	}
	if !intent.State.IsInFlight() {
		return s.ledger.Release(ctx, res.Key)
	}

	if intent.AttemptCount >= s.cfg.MaxAttempts {
		s.logger.Error("intent could not be recovered automatically",
			"action", "MANUAL_RECONCILIATION_REQUIRED",
			"intent_id", intent.ID,
			"order_id", intent.OrderID,
			"state", intent.State,
			"attempts", intent.AttemptCount,
		)
		intent.ScheduleRetry(s.cfg.RetryMaxDelay, string(application.CategoryPermanent))
		if err := s.save(ctx, intent); err != nil {
			s.logger.Warn("failed to park intent", "intent_id", intent.ID, "error", err)
		}
		return s.ledger.Release(ctx, res.Key)
	}

	s.logger.Info("resuming in-flight intent",
		"intent_id", intent.ID,
		"state", intent.State,
		"needs_reconciliation", intent.NeedsReconciliation,
	)
	_, err = s.drive(ctx, intent, driveOptions{recovery: true})
	return err
}

// Cancel stops an intent. When the terminal may already have approved it, a
// void is queued and tried right away.
func (s *IntentService) Cancel(ctx context.Context, cmd CancelIntentCommand) (*domain.PaymentIntent, error) {
	intent, err := s.store.Intents().FindByID(ctx, cmd.IntentID)
	if err != nil {
		return nil, err
	}

	callMayBeOpen := intent.State.IsInFlight() && intent.IdempotencyKey != ""
	reason := cmd.Reason
	if reason == "" {
		reason = "cancelled by user"
	}
	if err := intent.Cancel(reason); err != nil {
		return intent, err
	}

	var rev *domain.Reversal
	if intent.HasAuthorizationRef() || callMayBeOpen {
		rev = NewIntentReversal(intent)
	}

	err = s.store.WithTx(ctx, func(tx application.Store) error {
		if err := tx.Intents().Update(ctx, intent); err != nil {
			return err
		}
		if rev != nil {
			return tx.Reversals().Create(ctx, rev)
		}
		return nil
	})
	if err != nil {
		return nil, s.saveError(err)
	}
	s.metrics.IncIntentTransition(string(intent.State))

	if rev != nil {
		if err := s.reverser.Attempt(ctx, rev.ID); err != nil {
			s.logger.Warn("void attempt failed, left queued", "intent_id", intent.ID, "reversal_id", rev.ID, "error", err)
		}
	}
	s.logger.Info("payment intent cancelled", "intent_id", intent.ID, "void_queued", rev != nil)
	return intent, nil
}

// drive advances the intent until it reaches a terminal state or a step
// fails. The caller holds the intent's idempotency key; every exit either
// completes it together with a terminal state or releases it.
func (s *IntentService) drive(ctx context.Context, intent *domain.PaymentIntent, opts driveOptions) (*domain.PaymentIntent, error) {
	for {
		var err error
		switch intent.State {
		case domain.StateTokenizing, domain.StateAuthorizing:
			if intent.State == domain.StateAuthorizing && intent.SignatureCaptured && intent.Authorization != nil {
				intent, err = s.applyAuthorization(ctx, intent, intent.Authorization)
				break
			}
			if opts.recovery {
				intent, err = s.resolveUnknown(ctx, intent)
				break
			}
			intent, err = s.authorize(ctx, intent, opts)
		case domain.StateNeedsSignature:
			intent, err = s.collectSignature(ctx, intent, opts)
		case domain.StateCapturing:
			return s.settle(ctx, intent)
		default:
			return intent, nil
		}
		if err != nil {
			return intent, err
		}
	}
}

func (s *IntentService) authorize(ctx context.Context, intent *domain.PaymentIntent, opts driveOptions) (*domain.PaymentIntent, error) {
	if opts.promptTip && intent.State == domain.StateTokenizing && intent.TipCents == 0 {
		if err := s.promptTip(ctx, intent); err != nil {
			return s.handleStale(ctx, intent, nil, err)
		}
	}

	reqType := application.RequestSale
	if intent.Kind == domain.KindPreAuth {
		reqType = application.RequestPreAuth
	}

	result, err := s.terminal.Send(ctx, application.TerminalRequest{
		Type:        reqType,
		TerminalID:  intent.TerminalID,
		Reference:   intent.IdempotencyKey,
		InvoiceNo:   intent.OrderID,
		AmountCents: intent.AmountCents,
		TipCents:    intent.TipCents,
	})
	if err != nil {
		termErr, ok := application.IsTerminalError(err)
		if !ok || termErr.Kind != application.TerminalDecline || termErr.Result == nil {
			return s.terminalFailure(ctx, intent, err)
		}
		result = termErr.Result
	}
	return s.applyAuthorization(ctx, intent, result)
}

// promptTip asks the guest for a tip. A failed prompt is logged and the sale
// goes ahead without one.
func (s *IntentService) promptTip(ctx context.Context, intent *domain.PaymentIntent) error {
	result, err := s.terminal.Send(ctx, application.TerminalRequest{
		Type:        application.RequestGetTip,
		TerminalID:  intent.TerminalID,
		Reference:   intent.IdempotencyKey,
		AmountCents: intent.AmountCents,
	})
	if err != nil {
		s.logger.Warn("tip prompt failed, continuing without tip", "intent_id", intent.ID, "error", err)
		return nil
	}
	if result.TipCents == 0 {
		return nil
	}
	if err := intent.SetTip(result.TipCents); err != nil {
		return err
	}
	return s.save(ctx, intent)
}

// resolveUnknown asks the terminal what became of an authorization whose
// answer was never received.
func (s *IntentService) resolveUnknown(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	result, err := s.terminal.Send(ctx, application.TerminalRequest{
		Type:       application.RequestStatusCheck,
		TerminalID: intent.TerminalID,
		Reference:  intent.IdempotencyKey,
	})
	if err != nil {
		return s.retryLater(ctx, intent, err)
	}

	if result.ResponseCode == application.ResponseCodeNotFound {
		if err := intent.Fail("terminal has no transaction for this intent"); err != nil {
			return intent, err
		}
		return s.finish(ctx, intent, nil)
	}
	return s.applyAuthorization(ctx, intent, result)
}

func (s *IntentService) applyAuthorization(ctx context.Context, intent *domain.PaymentIntent, result *domain.AuthorizationResult) (*domain.PaymentIntent, error) {
	if intent.State == domain.StateTokenizing {
		if err := intent.CardRead(); err != nil {
			return intent, err
		}
	}
	if err := intent.ApplyAuthorization(result); err != nil {
		return intent, err
	}

	if intent.State == domain.StateFailed {
		s.logger.Info("authorization declined",
			"intent_id", intent.ID,
			"response_code", result.ResponseCode,
			"retryable", result.IsRetryable,
		)
		return s.finish(ctx, intent, nil)
	}

	if err := s.save(ctx, intent); err != nil {
		return s.handleStale(ctx, intent, result, err)
	}
	return intent, nil
}

func (s *IntentService) collectSignature(ctx context.Context, intent *domain.PaymentIntent, opts driveOptions) (*domain.PaymentIntent, error) {
	if opts.recovery {
		return s.abandon(ctx, intent, "signature was not collected")
	}

	_, err := s.terminal.Send(ctx, application.TerminalRequest{
		Type:       application.RequestGetSignature,
		TerminalID: intent.TerminalID,
		Reference:  intent.IdempotencyKey,
		RecordNo:   intent.Authorization.ReferenceNumber,
	})
	if err != nil {
		termErr, ok := application.IsTerminalError(err)
		if ok && termErr.Retryable {
			_ = s.ledger.Release(ctx, intent.IdempotencyKey)
			return intent, application.NewTerminalFailureError(termErr, intent.IdempotencyKey)
		}
		return s.abandon(ctx, intent, "signature refused")
	}

	if err := intent.SignatureAccepted(); err != nil {
		return intent, err
	}
	if err := s.save(ctx, intent); err != nil {
		return s.handleStale(ctx, intent, intent.Authorization, err)
	}
	return intent, nil
}

// settle captures a preauth hold if needed and applies the payment to the
// order. The intent completes in the reconciliation transaction.
func (s *IntentService) settle(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	if intent.NeedsCapture() {
		_, err := s.terminal.Send(ctx, application.TerminalRequest{
			Type:        application.RequestCapture,
			TerminalID:  intent.TerminalID,
			Reference:   intent.IdempotencyKey,
			RecordNo:    intent.Authorization.ReferenceNumber,
			AmountCents: intent.AmountCents,
			TipCents:    intent.TipCents,
		})
		if err != nil {
			return s.terminalFailure(ctx, intent, err)
		}
		if err := intent.MarkCaptured(); err != nil {
			return intent, err
		}
		if err := s.save(ctx, intent); err != nil {
			return s.handleStale(ctx, intent, intent.Authorization, err)
		}
	}

	card, err := intent.Authorization.CardDetails()
	if err != nil {
		return s.failAndVoid(ctx, intent, err)
	}

	before := *intent
	res, err := s.reconciler.Reconcile(ctx, ReconcileInput{
		OrderID:          intent.OrderID,
		TerminalID:       intent.TerminalID,
		Method:           domain.MethodCard,
		AmountCents:      intent.AmountCents,
		TipCents:         intent.TipCents,
		Card:             card,
		IdempotencyKey:   intent.IdempotencyKey,
		IntentID:         &intent.ID,
		IsOfflineCapture: intent.IsOfflineCapture,
		OnApplied: func(ctx context.Context, tx application.Store, res *ReconcileResult) error {
			return s.completeIn(ctx, tx, intent, res.Payment.ID)
		},
	})
	if err != nil {
		*intent = before
		return s.reconcileFailure(ctx, intent, err)
	}

	if res.Replayed && intent.State == domain.StateCapturing {
		if err := intent.Complete(res.Payment.ID); err != nil {
			return intent, err
		}
		return s.finish(ctx, intent, nil)
	}
	s.metrics.IncIntentTransition(string(intent.State))
	return intent, nil
}

func (s *IntentService) completeIn(ctx context.Context, tx application.Store, intent *domain.PaymentIntent, paymentID string) error {
	if err := intent.Complete(paymentID); err != nil {
		return err
	}
	if err := tx.Intents().Update(ctx, intent); err != nil {
		return err
	}
	return s.ledger.Complete(ctx, tx, intent.IdempotencyKey, receiptOf(intent))
}

func (s *IntentService) reconcileFailure(ctx context.Context, intent *domain.PaymentIntent, err error) (*domain.PaymentIntent, error) {
	if errors.Is(err, domain.ErrStaleGeneration) {
		return s.handleStale(ctx, intent, intent.Authorization, err)
	}

	switch application.CategorizeError(err) {
	case application.CategoryBusinessRule, application.CategoryClientError:
		s.logger.Error("approved authorization could not be applied to the order, voiding",
			"intent_id", intent.ID,
			"order_id", intent.OrderID,
			"error", err,
		)
		if _, voidErr := s.failAndVoid(ctx, intent, err); voidErr != nil {
			return intent, voidErr
		}
		return intent, err
	}

	s.logger.Warn("reconciliation failed, intent stays in capturing",
		"intent_id", intent.ID,
		"order_id", intent.OrderID,
		"error", err,
	)
	return s.retryLater(ctx, intent, err)
}

// terminalFailure handles a terminal error other than a decline. Retryable
// errors leave the outcome unknown and free the key for a retry with the
// same reference. Anything else ends the intent; when the device may have
// acted on the request, a reversal makes sure no charge survives.
func (s *IntentService) terminalFailure(ctx context.Context, intent *domain.PaymentIntent, err error) (*domain.PaymentIntent, error) {
	termErr, ok := application.IsTerminalError(err)
	if !ok {
		termErr = &application.TerminalError{
			Kind:      application.TerminalTimeout,
			Message:   "terminal call interrupted",
			Retryable: true,
			Err:       err,
		}
	}
	category := string(application.CategorizeError(termErr))

	if termErr.Retryable {
		intent.MarkOutcomeUnknown(category)
		if saveErr := s.save(ctx, intent); saveErr != nil {
			return s.handleStale(ctx, intent, nil, saveErr)
		}
		_ = s.ledger.Release(ctx, intent.IdempotencyKey)
		s.logger.Warn("terminal outcome unknown, retry with the same key",
			"intent_id", intent.ID,
			"idempotency_key", intent.IdempotencyKey,
			"kind", termErr.Kind,
			"error", termErr,
		)
		return intent, application.NewTerminalFailureError(termErr, intent.IdempotencyKey)
	}

	reachedDevice := termErr.Kind == application.TerminalProtocol || intent.HasAuthorizationRef()
	if err := intent.Fail(termErr.Error()); err != nil {
		return intent, err
	}

	var rev *domain.Reversal
	if reachedDevice {
		rev = NewIntentReversal(intent)
		s.logger.Error("terminal failed after the request may have been processed",
			"action", "ORPHANED_AUTHORIZATION_RISK",
			"intent_id", intent.ID,
			"terminal_id", intent.TerminalID,
			"reference", intent.IdempotencyKey,
			"error", termErr,
		)
	}
	if _, err := s.finish(ctx, intent, rev); err != nil {
		return intent, err
	}
	return intent, application.NewTerminalFailureError(termErr, "")
}

// retryLater parks the intent for the recovery sweep.
func (s *IntentService) retryLater(ctx context.Context, intent *domain.PaymentIntent, cause error) (*domain.PaymentIntent, error) {
	category := application.CategorizeError(cause)
	intent.ScheduleRetry(backoff(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, intent.AttemptCount), string(category))
	if err := s.save(ctx, intent); err != nil {
		return s.handleStale(ctx, intent, nil, err)
	}
	_ = s.ledger.Release(ctx, intent.IdempotencyKey)

	if termErr, ok := application.IsTerminalError(cause); ok {
		return intent, application.NewTerminalFailureError(termErr, intent.IdempotencyKey)
	}
	return intent, cause
}

// abandon cancels an approved intent that cannot finish and voids its hold.
func (s *IntentService) abandon(ctx context.Context, intent *domain.PaymentIntent, reason string) (*domain.PaymentIntent, error) {
	if err := intent.Cancel(reason); err != nil {
		return intent, err
	}
	return s.finish(ctx, intent, NewIntentReversal(intent))
}

func (s *IntentService) failAndVoid(ctx context.Context, intent *domain.PaymentIntent, cause error) (*domain.PaymentIntent, error) {
	if err := intent.Fail(cause.Error()); err != nil {
		return intent, err
	}
	return s.finish(ctx, intent, NewIntentReversal(intent))
}

// finish persists a terminal intent, completes its key and queues rev in one
// transaction, then tries rev once.
func (s *IntentService) finish(ctx context.Context, intent *domain.PaymentIntent, rev *domain.Reversal) (*domain.PaymentIntent, error) {
	err := s.store.WithTx(ctx, func(tx application.Store) error {
		if err := tx.Intents().Update(ctx, intent); err != nil {
			return err
		}
		if rev != nil {
			if err := tx.Reversals().Create(ctx, rev); err != nil {
				return err
			}
		}
		return s.ledger.Complete(ctx, tx, intent.IdempotencyKey, receiptOf(intent))
	})
	if err != nil {
		var auth *domain.AuthorizationResult
		if intent.HasAuthorizationRef() {
			auth = intent.Authorization
		}
		return s.handleStale(ctx, intent, auth, err)
	}
	s.metrics.IncIntentTransition(string(intent.State))

	if rev != nil {
		if err := s.reverser.Attempt(ctx, rev.ID); err != nil {
			s.logger.Warn("void attempt failed, left queued", "intent_id", intent.ID, "reversal_id", rev.ID, "error", err)
		}
	}
	return intent, nil
}

// handleStale deals with a write that lost the generation race. The stored
// intent wins; if it was cancelled or failed while the terminal approved, the
// approval is voided rather than applied.
func (s *IntentService) handleStale(ctx context.Context, intent *domain.PaymentIntent, approved *domain.AuthorizationResult, err error) (*domain.PaymentIntent, error) {
	if !errors.Is(err, domain.ErrStaleGeneration) {
		_ = s.ledger.Release(ctx, intent.IdempotencyKey)
		return intent, s.saveError(err)
	}

	current, loadErr := s.store.Intents().FindByID(ctx, intent.ID)
	if loadErr != nil {
		_ = s.ledger.Release(ctx, intent.IdempotencyKey)
		return intent, application.NewInternalError(loadErr)
	}

	s.logger.Warn("discarded stale intent write",
		"intent_id", intent.ID,
		"attempted_state", intent.State,
		"stored_state", current.State,
		"stored_generation", current.Generation,
	)

	lost := current.State == domain.StateCancelled || current.State == domain.StateFailed
	if lost && approved != nil && approved.Success {
		if voidErr := s.reverser.VoidLateAuthorization(ctx, current, approved); voidErr != nil {
			s.logger.Error("failed to queue void for late approval",
				"action", "ORPHANED_AUTHORIZATION_RISK",
				"intent_id", current.ID,
				"record_no", approved.ReferenceNumber,
				"error", voidErr,
			)
		}
	}

	if current.IsTerminal() {
		completeErr := s.store.WithTx(ctx, func(tx application.Store) error {
			return s.ledger.Complete(ctx, tx, current.IdempotencyKey, receiptOf(current))
		})
		if completeErr != nil {
			s.logger.Warn("failed to complete idempotency key", "intent_id", current.ID, "error", completeErr)
		}
	} else {
		_ = s.ledger.Release(ctx, intent.IdempotencyKey)
	}
	return current, application.NewStateChangedError(err)
}

func (s *IntentService) save(ctx context.Context, intent *domain.PaymentIntent) error {
	if err := s.store.Intents().Update(ctx, intent); err != nil {
		return err
	}
	s.metrics.IncIntentTransition(string(intent.State))
	return nil
}

func (s *IntentService) saveError(err error) error {
	if errors.Is(err, domain.ErrStaleGeneration) {
		return application.NewStateChangedError(err)
	}
	if _, ok := application.IsServiceError(err); ok {
		return err
	}
	if domain.ErrorCode(err) != "" {
		return err
	}
	return application.NewInternalError(err)
}

func receiptOf(intent *domain.PaymentIntent) intentReceipt {
	return intentReceipt{IntentID: intent.ID, State: intent.State, PaymentID: intent.PaymentID}
}
