package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/adapters/pg"
	"github.com/ticketforge/event-payments/internal/domain"
	"github.com/ticketforge/event-payments/internal/observability"
)

type fakeStore struct {
	byGatewayTx map[string]*domain.Payment
	byPublicID  map[uuid.UUID]*domain.Payment
	outbox      []pg.OutboxRecord
	failTxOnce  bool
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if s.failTxOnce {
		s.failTxOnce = false
		return errors.New("connection reset")
	}
	return fn(nil)
}

func (s *fakeStore) GetPaymentByGatewayTx(ctx context.Context, txID string) (*domain.Payment, error) {
	if p, ok := s.byGatewayTx[txID]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) GetPaymentByPublicID(ctx context.Context, publicID uuid.UUID) (*domain.Payment, error) {
	if p, ok := s.byPublicID[publicID]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) AttachGatewayTx(ctx context.Context, id uuid.UUID, txID string, now time.Time) error {
	for _, p := range s.byPublicID {
		if p.ID == id && p.GatewayTxID == "" {
			p.GatewayTxID = txID
			s.byGatewayTx[txID] = p
		}
	}
	return nil
}

func (s *fakeStore) MarkPaymentPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error) {
	for _, p := range s.byGatewayTx {
		if p.ID == id {
			if p.Status != domain.PaymentPending {
				return false, nil
			}
			return true, p.MarkPaid(now)
		}
	}
	return false, domain.ErrNotFound
}

func (s *fakeStore) MarkPaymentFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	for _, p := range s.byGatewayTx {
		if p.ID == id {
			if p.Status != domain.PaymentPending {
				return false, nil
			}
			return true, p.MarkFailed(now)
		}
	}
	return false, domain.ErrNotFound
}

func (s *fakeStore) InsertOutbox(ctx context.Context, tx pgx.Tx, record pg.OutboxRecord) error {
	s.outbox = append(s.outbox, record)
	return nil
}

type fakeDeduper struct {
	seen map[string]bool
}

func (d *fakeDeduper) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func (d *fakeDeduper) UnmarkEvent(ctx context.Context, eventID string) error {
	delete(d.seen, eventID)
	return nil
}

type fakeCache struct {
	invalidations int
}

func (c *fakeCache) InvalidatePaymentStatus(ctx context.Context, publicID string) error {
	c.invalidations++
	return nil
}

type fakeAuditor struct {
	actions []string
}

func (a *fakeAuditor) Record(ctx context.Context, action string, paymentID, ownerID uuid.UUID, data map[string]interface{}) error {
	a.actions = append(a.actions, action)
	return nil
}

func newReconcilerFixture(t *testing.T) (*Reconciler, *fakeStore, *fakeCache, *domain.Payment) {
	t.Helper()

	payment := domain.NewPayment(uuid.New(), uuid.New(), "card", []domain.SnapshotLine{
		{ProductID: uuid.New(), Name: "Standard", Quantity: 1, UnitPrice: 50.00, DiscountedPrice: 50.00},
	}, time.Now())
	payment.GatewayTxID = "pi_test"

	store := &fakeStore{
		byGatewayTx: map[string]*domain.Payment{"pi_test": &payment},
		byPublicID:  map[uuid.UUID]*domain.Payment{payment.PublicID: &payment},
	}
	cache := &fakeCache{}
	rec := NewReconciler(store, &fakeDeduper{}, cache, &fakeAuditor{}, observability.NewLogger())
	return rec, store, cache, &payment
}

func TestHandleSucceeded(t *testing.T) {
	rec, store, cache, payment := newReconcilerFixture(t)
	ctx := context.Background()

	event := domain.GatewayEvent{ID: "evt_1", Type: domain.GatewayPaymentSucceeded, TransactionID: "pi_test"}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("HandleGatewayEvent failed: %v", err)
	}

	if payment.Status != domain.PaymentPaid {
		t.Errorf("expected PAID, got %s", payment.Status)
	}
	if len(store.outbox) != 1 {
		t.Fatalf("expected 1 issue task, got %d", len(store.outbox))
	}
	task := store.outbox[0]
	if task.EventType != IssueTicketsEvent {
		t.Errorf("unexpected event type %q", task.EventType)
	}
	if task.DedupeKey != payment.ID.String()+":paid" {
		t.Errorf("unexpected dedupe key %q", task.DedupeKey)
	}
	if cache.invalidations != 1 {
		t.Errorf("expected 1 cache invalidation, got %d", cache.invalidations)
	}
}

func TestHandleDuplicateEvent(t *testing.T) {
	rec, store, _, _ := newReconcilerFixture(t)
	ctx := context.Background()

	event := domain.GatewayEvent{ID: "evt_1", Type: domain.GatewayPaymentSucceeded, TransactionID: "pi_test"}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if len(store.outbox) != 1 {
		t.Errorf("redelivery enqueued a second issue task: %d", len(store.outbox))
	}
}

func TestHandleErrorThenRedeliverySucceeds(t *testing.T) {
	rec, store, _, payment := newReconcilerFixture(t)
	ctx := context.Background()
	store.failTxOnce = true

	// A transient transaction failure must not leave the event id claimed,
	// or the gateway's redelivery would be dropped as a duplicate and the
	// payment stranded Pending.
	event := domain.GatewayEvent{ID: "evt_1", Type: domain.GatewayPaymentSucceeded, TransactionID: "pi_test"}
	if err := rec.HandleGatewayEvent(ctx, event); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	if payment.Status != domain.PaymentPending {
		t.Fatalf("payment transitioned despite the failure: %s", payment.Status)
	}

	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if payment.Status != domain.PaymentPaid {
		t.Errorf("redelivery did not transition the payment: %s", payment.Status)
	}
	if len(store.outbox) != 1 {
		t.Errorf("expected 1 issue task after redelivery, got %d", len(store.outbox))
	}
}

func TestHandleSucceededRecoversByMetadata(t *testing.T) {
	rec, store, _, payment := newReconcilerFixture(t)
	ctx := context.Background()

	// The intent write was lost after the gateway call: no transaction id on
	// the row, so lookup falls back to the metadata public id.
	payment.GatewayTxID = ""
	delete(store.byGatewayTx, "pi_test")

	event := domain.GatewayEvent{
		ID:              "evt_1",
		Type:            domain.GatewayPaymentSucceeded,
		TransactionID:   "pi_lost",
		PaymentPublicID: payment.PublicID.String(),
	}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("HandleGatewayEvent failed: %v", err)
	}
	if payment.Status != domain.PaymentPaid {
		t.Errorf("expected PAID, got %s", payment.Status)
	}
	if payment.GatewayTxID != "pi_lost" {
		t.Errorf("transaction id not backfilled: %q", payment.GatewayTxID)
	}
	if len(store.outbox) != 1 {
		t.Errorf("expected 1 issue task, got %d", len(store.outbox))
	}
}

func TestHandleReplayOnPaidPayment(t *testing.T) {
	rec, store, _, payment := newReconcilerFixture(t)
	ctx := context.Background()
	payment.MarkPaid(time.Now())

	// Same transaction, different event id: dedupe misses but the
	// conditional transition makes it a no-op.
	event := domain.GatewayEvent{ID: "evt_2", Type: domain.GatewayPaymentSucceeded, TransactionID: "pi_test"}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("HandleGatewayEvent failed: %v", err)
	}
	if len(store.outbox) != 0 {
		t.Errorf("issue task enqueued for an already paid payment")
	}
}

func TestHandleFailedAfterPaidIsNoOp(t *testing.T) {
	rec, _, _, payment := newReconcilerFixture(t)
	ctx := context.Background()
	payment.MarkPaid(time.Now())

	event := domain.GatewayEvent{ID: "evt_3", Type: domain.GatewayPaymentFailed, TransactionID: "pi_test"}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("HandleGatewayEvent failed: %v", err)
	}
	if payment.Status != domain.PaymentPaid {
		t.Errorf("out of order failure overwrote PAID: %s", payment.Status)
	}
}

func TestHandleFailed(t *testing.T) {
	rec, _, cache, payment := newReconcilerFixture(t)
	ctx := context.Background()

	event := domain.GatewayEvent{ID: "evt_4", Type: domain.GatewayPaymentFailed, TransactionID: "pi_test"}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("HandleGatewayEvent failed: %v", err)
	}
	if payment.Status != domain.PaymentFailed {
		t.Errorf("expected FAILED, got %s", payment.Status)
	}
	if cache.invalidations != 1 {
		t.Errorf("expected 1 cache invalidation, got %d", cache.invalidations)
	}
}

func TestHandleUnknownEventIgnored(t *testing.T) {
	rec, store, _, _ := newReconcilerFixture(t)
	ctx := context.Background()

	event := domain.GatewayEvent{ID: "evt_5", Type: domain.GatewayEventUnknown}
	if err := rec.HandleGatewayEvent(ctx, event); err != nil {
		t.Fatalf("unknown event must be acked, got %v", err)
	}
	if len(store.outbox) != 0 {
		t.Errorf("unknown event enqueued a task")
	}
}

func TestHandleUnknownTransaction(t *testing.T) {
	rec, _, _, _ := newReconcilerFixture(t)
	ctx := context.Background()

	event := domain.GatewayEvent{ID: "evt_6", Type: domain.GatewayPaymentSucceeded, TransactionID: "pi_ghost"}
	err := rec.HandleGatewayEvent(ctx, event)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
