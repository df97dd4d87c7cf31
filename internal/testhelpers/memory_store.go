package testhelpers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
)

// Hooks let tests inject failures into the in-memory store. A non-nil error
// aborts the operation, and the surrounding transaction rolls back.
type Hooks struct {
	BeforeIntentUpdate func(intent *domain.PaymentIntent) error
	BeforeApplyPayment func(rec *domain.OrderPaymentRecord) error
}

type memData struct {
	intents   map[string]*domain.PaymentIntent
	idem      map[string]*domain.IdempotencyRecord
	orders    map[string]*domain.Order
	payments  map[string]*domain.OrderPaymentRecord
	outbox    map[string]*domain.OutboxEvent
	reversals map[string]*domain.Reversal
}

func (d *memData) clone() *memData {
	return &memData{
		intents:   maps.Clone(d.intents),
		idem:      maps.Clone(d.idem),
		orders:    maps.Clone(d.orders),
		payments:  maps.Clone(d.payments),
		outbox:    maps.Clone(d.outbox),
		reversals: maps.Clone(d.reversals),
	}
}

type memState struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	data  *memData
	hooks Hooks
}

// MemoryStore is an application.Store kept in process memory. Transactions
// are serialized and roll back to a snapshot on error. Stored values are
// copied on the way in and out, so callers never share pointers with it.
type MemoryStore struct {
	state *memState
	inTx  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{data: &memData{
		intents:   make(map[string]*domain.PaymentIntent),
		idem:      make(map[string]*domain.IdempotencyRecord),
		orders:    make(map[string]*domain.Order),
		payments:  make(map[string]*domain.OrderPaymentRecord),
		outbox:    make(map[string]*domain.OutboxEvent),
		reversals: make(map[string]*domain.Reversal),
	}}}
}

func (s *MemoryStore) SetHooks(h Hooks) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.hooks = h
}

func (s *MemoryStore) Intents() application.IntentRepository       { return &memIntents{s} }
func (s *MemoryStore) Idempotency() application.IdempotencyRepository { return &memIdempotency{s} }
func (s *MemoryStore) Orders() application.OrderLedger               { return &memOrders{s} }
func (s *MemoryStore) Outbox() application.OutboxRepository          { return &memOutbox{s} }
func (s *MemoryStore) Reversals() application.ReversalRepository     { return &memReversals{s} }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx application.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.state.txMu.Lock()
	defer s.state.txMu.Unlock()

	s.state.mu.Lock()
	snapshot := s.state.data.clone()
	s.state.mu.Unlock()

	if err := fn(&MemoryStore{state: s.state, inTx: true}); err != nil {
		s.state.mu.Lock()
		s.state.data = snapshot
		s.state.mu.Unlock()
		return err
	}
	return nil
}

// run executes fn with the data lock held. Outside a transaction it also
// waits for any running transaction to finish.
func (s *MemoryStore) run(fn func(d *memData, h Hooks) error) error {
	if !s.inTx {
		s.state.txMu.Lock()
		defer s.state.txMu.Unlock()
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return fn(s.state.data, s.state.hooks)
}

// Snapshot accessors for assertions.

func (s *MemoryStore) Payments(orderID string) []*domain.OrderPaymentRecord {
	recs, _ := s.Orders().ListPayments(context.Background(), orderID)
	return recs
}

func (s *MemoryStore) Events(eventType domain.EventType) []*domain.OutboxEvent {
	var out []*domain.OutboxEvent
	_ = s.run(func(d *memData, _ Hooks) error {
		for _, ev := range d.outbox {
			if ev.Type == eventType {
				c := *ev
				out = append(out, &c)
			}
		}
		return nil
	})
	return out
}

func (s *MemoryStore) AllReversals() []*domain.Reversal {
	var out []*domain.Reversal
	_ = s.run(func(d *memData, _ Hooks) error {
		for _, r := range d.reversals {
			c := *r
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyIntent(i *domain.PaymentIntent) *domain.PaymentIntent {
	c := *i
	c.History = slices.Clone(i.History)
	if i.Authorization != nil {
		auth := *i.Authorization
		c.Authorization = &auth
	}
	return &c
}

func copyPayment(r *domain.OrderPaymentRecord) *domain.OrderPaymentRecord {
	c := *r
	if r.Card != nil {
		card := *r.Card
		c.Card = &card
	}
	return &c
}

// intents

type memIntents struct{ s *MemoryStore }

func (r *memIntents) Create(_ context.Context, intent *domain.PaymentIntent) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		if _, ok := d.intents[intent.ID]; ok {
			return fmt.Errorf("intent %s already exists", intent.ID)
		}
		intent.MarkPersisted()
		d.intents[intent.ID] = copyIntent(intent)
		return nil
	})
}

func (r *memIntents) FindByID(_ context.Context, id string) (*domain.PaymentIntent, error) {
	var out *domain.PaymentIntent
	err := r.s.run(func(d *memData, _ Hooks) error {
		stored, ok := d.intents[id]
		if !ok {
			return domain.NewIntentNotFoundError(id)
		}
		out = copyIntent(stored)
		out.MarkPersisted()
		return nil
	})
	return out, err
}

func (r *memIntents) Update(_ context.Context, intent *domain.PaymentIntent) error {
	return r.s.run(func(d *memData, h Hooks) error {
		if h.BeforeIntentUpdate != nil {
			if err := h.BeforeIntentUpdate(intent); err != nil {
				return err
			}
		}
		stored, ok := d.intents[intent.ID]
		if !ok {
			return domain.NewIntentNotFoundError(intent.ID)
		}
		if stored.Generation != intent.BaseGeneration() {
			return domain.NewStaleGenerationError(intent.ID)
		}
		if intent.IdempotencyKey != "" {
			for id, other := range d.intents {
				if id != intent.ID && other.IdempotencyKey == intent.IdempotencyKey {
					return domain.NewDuplicateKeyError(intent.IdempotencyKey)
				}
			}
		}
		intent.MarkPersisted()
		d.intents[intent.ID] = copyIntent(intent)
		return nil
	})
}

func (r *memIntents) FindInFlight(_ context.Context, updatedBefore time.Time, limit int) ([]*domain.PaymentIntent, error) {
	var out []*domain.PaymentIntent
	now := time.Now().UTC()
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, i := range d.intents {
			if !i.State.IsInFlight() || !i.UpdatedAt.Before(updatedBefore) {
				continue
			}
			if i.NextRetryAt != nil && i.NextRetryAt.After(now) {
				continue
			}
			c := copyIntent(i)
			c.MarkPersisted()
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// idempotency

type memIdempotency struct{ s *MemoryStore }

func (r *memIdempotency) Reserve(_ context.Context, rec *domain.IdempotencyRecord, lease time.Duration) (*domain.IdempotencyRecord, bool, error) {
	var stored domain.IdempotencyRecord
	acquired := false
	err := r.s.run(func(d *memData, _ Hooks) error {
		now := time.Now().UTC()
		existing, ok := d.idem[rec.Key]
		if !ok {
			c := *rec
			c.LockedAt = &now
			c.CreatedAt = now
			d.idem[rec.Key] = &c
			stored, acquired = c, true
			return nil
		}

		free := existing.LockedAt == nil || existing.LockedAt.Before(now.Add(-lease))
		if !existing.IsComplete() && existing.RequestHash == rec.RequestHash && free {
			c := *existing
			c.LockedAt = &now
			d.idem[rec.Key] = &c
			stored, acquired = c, true
			return nil
		}
		stored = *existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, acquired, nil
}

func (r *memIdempotency) FindByKey(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	var out *domain.IdempotencyRecord
	err := r.s.run(func(d *memData, _ Hooks) error {
		rec, ok := d.idem[key]
		if !ok {
			return fmt.Errorf("no key found: %s", key)
		}
		c := *rec
		out = &c
		return nil
	})
	return out, err
}

func (r *memIdempotency) Complete(_ context.Context, key string, response []byte) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		rec, ok := d.idem[key]
		if !ok {
			return fmt.Errorf("no key found: %s", key)
		}
		now := time.Now().UTC()
		c := *rec
		c.Response = slices.Clone(response)
		c.CompletedAt = &now
		c.LockedAt = nil
		d.idem[key] = &c
		return nil
	})
}

func (r *memIdempotency) Release(_ context.Context, key string) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		rec, ok := d.idem[key]
		if !ok || rec.IsComplete() {
			return nil
		}
		c := *rec
		c.LockedAt = nil
		d.idem[key] = &c
		return nil
	})
}

// orders and payments

type memOrders struct{ s *MemoryStore }

func (r *memOrders) CreateOrder(_ context.Context, order *domain.Order) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		if _, ok := d.orders[order.ID]; ok {
			return domain.NewDuplicateKeyError(order.ID)
		}
		c := *order
		d.orders[order.ID] = &c
		return nil
	})
}

func (r *memOrders) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	var out *domain.Order
	err := r.s.run(func(d *memData, _ Hooks) error {
		o, ok := d.orders[orderID]
		if !ok {
			return domain.NewOrderNotFoundError(orderID)
		}
		c := *o
		out = &c
		return nil
	})
	return out, err
}

// LockOrder is GetOrder: transactions are already serialized.
func (r *memOrders) LockOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return r.GetOrder(ctx, orderID)
}

func (r *memOrders) OutstandingBalance(ctx context.Context, orderID string) (int64, error) {
	o, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return o.OutstandingCents(), nil
}

func (r *memOrders) SiblingStatus(_ context.Context, parentOrderID string) ([]domain.ChildStatus, error) {
	var out []domain.ChildStatus
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, o := range d.orders {
			if o.ParentID != nil && *o.ParentID == parentOrderID {
				out = append(out, domain.ChildStatus{OrderID: o.ID, Status: o.Status})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, err
}

func (r *memOrders) UpdateOrder(_ context.Context, order *domain.Order) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		if _, ok := d.orders[order.ID]; !ok {
			return domain.NewOrderNotFoundError(order.ID)
		}
		c := *order
		d.orders[order.ID] = &c
		return nil
	})
}

func (r *memOrders) ApplyPayment(_ context.Context, rec *domain.OrderPaymentRecord) error {
	return r.s.run(func(d *memData, h Hooks) error {
		if h.BeforeApplyPayment != nil {
			if err := h.BeforeApplyPayment(rec); err != nil {
				return err
			}
		}
		for _, p := range d.payments {
			if p.IdempotencyKey == rec.IdempotencyKey {
				return domain.NewDuplicateKeyError(rec.IdempotencyKey)
			}
		}
		if rec.Card != nil {
			if _, err := domain.NewCardDetails(rec.Card.AuthorizationRef, rec.Card.CardBrand, rec.Card.Last4, rec.Card.AuthCode); err != nil {
				return errors.Join(errors.New("card_details_all_or_nothing"), err)
			}
		}
		d.payments[rec.ID] = copyPayment(rec)
		return nil
	})
}

func (r *memOrders) PaidTotal(_ context.Context, orderID string) (int64, error) {
	var total int64
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, p := range d.payments {
			if p.OrderID == orderID {
				total += p.NetCents()
			}
		}
		return nil
	})
	return total, err
}

func (r *memOrders) FindPayment(_ context.Context, paymentID string) (*domain.OrderPaymentRecord, error) {
	var out *domain.OrderPaymentRecord
	err := r.s.run(func(d *memData, _ Hooks) error {
		p, ok := d.payments[paymentID]
		if !ok {
			return domain.NewPaymentNotFoundError(paymentID)
		}
		out = copyPayment(p)
		return nil
	})
	return out, err
}

func (r *memOrders) LockPayment(ctx context.Context, paymentID string) (*domain.OrderPaymentRecord, error) {
	return r.FindPayment(ctx, paymentID)
}

func (r *memOrders) FindPaymentByIdempotencyKey(_ context.Context, key string) (*domain.OrderPaymentRecord, error) {
	var out *domain.OrderPaymentRecord
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, p := range d.payments {
			if p.IdempotencyKey == key {
				out = copyPayment(p)
				return nil
			}
		}
		return domain.NewPaymentNotFoundError(key)
	})
	return out, err
}

func (r *memOrders) UpdatePayment(_ context.Context, rec *domain.OrderPaymentRecord) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		if _, ok := d.payments[rec.ID]; !ok {
			return domain.NewPaymentNotFoundError(rec.ID)
		}
		d.payments[rec.ID] = copyPayment(rec)
		return nil
	})
}

func (r *memOrders) ListPayments(_ context.Context, orderID string) ([]*domain.OrderPaymentRecord, error) {
	var out []*domain.OrderPaymentRecord
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, p := range d.payments {
			if p.OrderID == orderID {
				out = append(out, copyPayment(p))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// outbox

type memOutbox struct{ s *MemoryStore }

func (r *memOutbox) Add(_ context.Context, ev *domain.OutboxEvent) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		c := *ev
		d.outbox[ev.ID] = &c
		return nil
	})
}

func (r *memOutbox) FetchUnpublished(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var out []*domain.OutboxEvent
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, ev := range d.outbox {
			if ev.PublishedAt == nil {
				c := *ev
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *memOutbox) MarkPublished(_ context.Context, id string) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		ev, ok := d.outbox[id]
		if !ok {
			return fmt.Errorf("outbox event %s not found", id)
		}
		now := time.Now().UTC()
		c := *ev
		c.PublishedAt = &now
		d.outbox[id] = &c
		return nil
	})
}

func (r *memOutbox) MarkFailed(_ context.Context, id string, lastErr string) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		ev, ok := d.outbox[id]
		if !ok {
			return fmt.Errorf("outbox event %s not found", id)
		}
		c := *ev
		c.Attempts++
		c.LastError = &lastErr
		d.outbox[id] = &c
		return nil
	})
}

// reversals

type memReversals struct{ s *MemoryStore }

func (r *memReversals) Create(_ context.Context, rev *domain.Reversal) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		c := *rev
		d.reversals[rev.ID] = &c
		return nil
	})
}

func (r *memReversals) FindByID(_ context.Context, id string) (*domain.Reversal, error) {
	var out *domain.Reversal
	err := r.s.run(func(d *memData, _ Hooks) error {
		rev, ok := d.reversals[id]
		if !ok {
			return domain.NewReversalNotFoundError(id)
		}
		c := *rev
		out = &c
		return nil
	})
	return out, err
}

func (r *memReversals) FindVoidByIntent(_ context.Context, intentID string) (*domain.Reversal, error) {
	var out *domain.Reversal
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, rev := range d.reversals {
			if rev.Kind != domain.ReversalVoid || rev.IntentID == nil || *rev.IntentID != intentID {
				continue
			}
			if out == nil || rev.CreatedAt.Before(out.CreatedAt) {
				c := *rev
				out = &c
			}
		}
		return nil
	})
	return out, err
}

func (r *memReversals) FindDue(_ context.Context, limit int) ([]*domain.Reversal, error) {
	var out []*domain.Reversal
	now := time.Now().UTC()
	err := r.s.run(func(d *memData, _ Hooks) error {
		for _, rev := range d.reversals {
			if rev.Status == domain.ReversalPending && !rev.NextRetryAt.After(now) {
				c := *rev
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *memReversals) Update(_ context.Context, rev *domain.Reversal) error {
	return r.s.run(func(d *memData, _ Hooks) error {
		if _, ok := d.reversals[rev.ID]; !ok {
			return domain.NewReversalNotFoundError(rev.ID)
		}
		c := *rev
		d.reversals[rev.ID] = &c
		return nil
	})
}
