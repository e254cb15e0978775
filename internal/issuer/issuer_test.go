package issuer

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
	"github.com/ticketforge/event-payments/internal/render"
)

type fakeStore struct {
	payments     map[uuid.UUID]*domain.Payment
	tickets      map[string]*domain.Ticket
	stock        map[uuid.UUID]int
	outbox       []pg.OutboxRecord
	inserts      int
	conflictOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments: map[uuid.UUID]*domain.Payment{},
		tickets:  map[string]*domain.Ticket{},
		stock:    map[uuid.UUID]int{},
	}
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (s *fakeStore) LockPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	if p, ok := s.payments[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) TicketsByPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.PaymentID == paymentID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) (int, int, error) {
	prev := s.stock[productID]
	cur := prev - quantity
	if cur < 0 {
		cur = 0
	}
	s.stock[productID] = cur
	return prev, cur, nil
}

func (s *fakeStore) IncrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error {
	s.stock[productID] += quantity
	return nil
}

func (s *fakeStore) InsertTicket(ctx context.Context, tx pgx.Tx, t domain.Ticket) error {
	s.inserts++
	if s.conflictOnce {
		s.conflictOnce = false
		return domain.ErrConflict
	}
	if _, ok := s.tickets[t.Token]; ok {
		return domain.ErrConflict
	}
	s.tickets[t.Token] = &t
	return nil
}

func (s *fakeStore) GetTicketByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	if t, ok := s.tickets[token]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) TransitionTicket(ctx context.Context, tx pgx.Tx, t *domain.Ticket) error {
	stored, ok := s.tickets[t.Token]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != domain.TicketIssued {
		return domain.ErrInvalidState
	}
	*stored = *t
	return nil
}

func (s *fakeStore) InsertOutbox(ctx context.Context, tx pgx.Tx, record pg.OutboxRecord) error {
	s.outbox = append(s.outbox, record)
	return nil
}

type fakeCatalog struct{}

func (c *fakeCatalog) EventInfo(ctx context.Context, productID uuid.UUID) (string, time.Time, error) {
	return "Summer Fest", time.Date(2026, 7, 18, 19, 0, 0, 0, time.UTC), nil
}

type fakeBlobs struct {
	objects map[string][]byte
	failPut bool
}

func (b *fakeBlobs) Put(ctx context.Context, key, contentType string, data []byte) error {
	if b.failPut {
		return errors.New("blob store down")
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = data
	return nil
}

type fakeQR struct{}

func (fakeQR) Render(token string, paymentID, productID uuid.UUID) ([]byte, error) {
	return []byte("qr:" + token), nil
}

type fakePDF struct{}

func (fakePDF) Render(data render.TicketPDFData) ([]byte, error) {
	return []byte("%PDF-1.4 " + data.Token), nil
}

type issuerFixture struct {
	store   *fakeStore
	blobs   *fakeBlobs
	issuer  *Issuer
	payment *domain.Payment
	stdID   uuid.UUID
	vipID   uuid.UUID
}

func newIssuerFixture(t *testing.T) *issuerFixture {
	t.Helper()

	f := &issuerFixture{
		store: newFakeStore(),
		blobs: &fakeBlobs{},
		stdID: uuid.New(),
		vipID: uuid.New(),
	}

	now := time.Now()
	payment := domain.NewPayment(uuid.New(), uuid.New(), "card", []domain.SnapshotLine{
		{ProductID: f.stdID, Name: "Standard", Category: "GA", Quantity: 2, UnitPrice: 50.00, DiscountedPrice: 50.00, Locale: "en"},
		{ProductID: f.vipID, Name: "VIP", Category: "VIP", Quantity: 1, UnitPrice: 100.00, DiscountRate: 0.10, DiscountedPrice: 90.00, Locale: "en"},
	}, now)
	payment.MarkPaid(now)
	f.payment = &payment
	f.store.payments[payment.ID] = &payment
	f.store.stock[f.stdID] = 10
	f.store.stock[f.vipID] = 5

	f.issuer = NewIssuer(f.store, &fakeCatalog{}, f.blobs, fakeQR{}, fakePDF{}, observability.NewLogger())
	return f
}

func TestIssueTickets(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	tickets, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("IssueTickets failed: %v", err)
	}
	if len(tickets) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(tickets))
	}

	if f.store.stock[f.stdID] != 8 {
		t.Errorf("standard stock: expected 8, got %d", f.store.stock[f.stdID])
	}
	if f.store.stock[f.vipID] != 4 {
		t.Errorf("vip stock: expected 4, got %d", f.store.stock[f.vipID])
	}

	for _, ticket := range tickets {
		if ticket.Status != domain.TicketIssued {
			t.Errorf("expected ISSUED, got %s", ticket.Status)
		}
		if len(ticket.Token) != 32 {
			t.Errorf("expected 32 char token, got %q", ticket.Token)
		}
		if _, ok := f.blobs.objects[ticket.QRKey]; !ok {
			t.Errorf("missing QR artifact for %s", ticket.Token)
		}
		if _, ok := f.blobs.objects[ticket.PDFKey]; !ok {
			t.Errorf("missing PDF artifact for %s", ticket.Token)
		}
	}

	if len(f.store.outbox) != 1 {
		t.Fatalf("expected 1 outbox record, got %d", len(f.store.outbox))
	}
	if f.store.outbox[0].EventType != "tickets.issued" {
		t.Errorf("unexpected event type %q", f.store.outbox[0].EventType)
	}
}

func TestIssueTicketsReplayReturnsExisting(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	first, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("first IssueTickets failed: %v", err)
	}
	second, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("second IssueTickets failed: %v", err)
	}
	if len(second) != len(first) {
		t.Errorf("replay minted tickets: %d then %d", len(first), len(second))
	}
	if f.store.stock[f.stdID] != 8 {
		t.Errorf("replay decremented stock again: %d", f.store.stock[f.stdID])
	}
	if len(f.store.outbox) != 1 {
		t.Errorf("replay enqueued a second notification: %d", len(f.store.outbox))
	}
}

func TestIssueTicketsClampsOverrun(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()
	f.store.stock[f.stdID] = 1

	tickets, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("IssueTickets failed: %v", err)
	}
	// The paid seats are honored regardless of the counter.
	if len(tickets) != 3 {
		t.Errorf("expected 3 tickets, got %d", len(tickets))
	}
	if f.store.stock[f.stdID] != 0 {
		t.Errorf("expected stock clamped at 0, got %d", f.store.stock[f.stdID])
	}
}

func TestIssueTicketsRejectsUnpaid(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	pending := domain.NewPayment(uuid.New(), uuid.New(), "card", f.payment.Snapshot, time.Now())
	f.store.payments[pending.ID] = &pending

	if _, err := f.issuer.IssueTickets(ctx, pending.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if len(f.store.tickets) != 0 {
		t.Errorf("tickets minted for unpaid payment")
	}
}

func TestIssueTicketsRejectsRefundedBeforeIssuance(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	// Fully refunded before the delayed issuance task ran: no tickets, no
	// stock movement.
	if err := f.payment.ApplyRefund(f.payment.Amount, time.Now()); err != nil {
		t.Fatal(err)
	}

	if _, err := f.issuer.IssueTickets(ctx, f.payment.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if len(f.store.tickets) != 0 {
		t.Errorf("tickets minted for refunded payment")
	}
	if f.store.stock[f.stdID] != 10 || f.store.stock[f.vipID] != 5 {
		t.Errorf("stock moved: %d %d", f.store.stock[f.stdID], f.store.stock[f.vipID])
	}
}

func TestIssueTicketsReplayAfterRefund(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	first, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("IssueTickets failed: %v", err)
	}
	if err := f.payment.ApplyRefund(f.payment.Amount, time.Now()); err != nil {
		t.Fatal(err)
	}

	// The task redelivery after a refund still resolves to the existing
	// tickets instead of an error.
	second, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(second) != len(first) {
		t.Errorf("replay minted tickets: %d then %d", len(first), len(second))
	}
	if f.store.stock[f.stdID] != 8 {
		t.Errorf("replay decremented stock again: %d", f.store.stock[f.stdID])
	}
}

func TestIssueTicketsRetriesTokenCollision(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()
	f.store.conflictOnce = true

	tickets, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("IssueTickets failed: %v", err)
	}
	if len(tickets) != 3 {
		t.Errorf("expected 3 tickets, got %d", len(tickets))
	}
	if f.store.inserts != 4 {
		t.Errorf("expected 4 insert attempts, got %d", f.store.inserts)
	}
}

func TestIssueTicketsArtifactFailureRollsBack(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()
	f.blobs.failPut = true

	if _, err := f.issuer.IssueTickets(ctx, f.payment.ID); err == nil {
		t.Fatal("expected error")
	}
	if len(f.store.outbox) != 0 {
		t.Errorf("notification enqueued despite artifact failure")
	}
}

func TestScanTicket(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	tickets, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("IssueTickets failed: %v", err)
	}
	token := tickets[0].Token

	scanned, err := f.issuer.ScanTicket(ctx, token)
	if err != nil {
		t.Fatalf("ScanTicket failed: %v", err)
	}
	if scanned.Status != domain.TicketUsed {
		t.Errorf("expected USED, got %s", scanned.Status)
	}
	if scanned.UsedAt == nil {
		t.Error("UsedAt not set")
	}

	if _, err := f.issuer.ScanTicket(ctx, token); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("double scan: expected invalid state, got %v", err)
	}
	if _, err := f.issuer.ScanTicket(ctx, "nosuchtoken"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown token: expected not found, got %v", err)
	}
}

func TestCancelTicketReturnsSeat(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	tickets, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("IssueTickets failed: %v", err)
	}

	var vipToken string
	for _, ticket := range tickets {
		if ticket.ProductID == f.vipID {
			vipToken = ticket.Token
		}
	}

	cancelled, err := f.issuer.CancelTicket(ctx, vipToken)
	if err != nil {
		t.Fatalf("CancelTicket failed: %v", err)
	}
	if cancelled.Status != domain.TicketCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	if f.store.stock[f.vipID] != 5 {
		t.Errorf("expected seat returned to stock, got %d", f.store.stock[f.vipID])
	}

	for _, ticket := range tickets {
		if ticket.Token == vipToken {
			continue
		}
		got, err := f.store.GetTicketByToken(ctx, ticket.Token)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.TicketIssued {
			t.Errorf("sibling ticket %s transitioned to %s", got.Token, got.Status)
		}
	}

	if _, err := f.issuer.CancelTicket(ctx, vipToken); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("cancel after cancel: expected invalid state, got %v", err)
	}
}

func TestRefundTicketReturnsSeat(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	tickets, err := f.issuer.IssueTickets(ctx, f.payment.ID)
	if err != nil {
		t.Fatalf("IssueTickets failed: %v", err)
	}
	token := tickets[0].Token

	refunded, err := f.issuer.RefundTicket(ctx, token)
	if err != nil {
		t.Fatalf("RefundTicket failed: %v", err)
	}
	if refunded.Status != domain.TicketRefunded {
		t.Errorf("expected REFUNDED, got %s", refunded.Status)
	}
	if f.store.stock[refunded.ProductID] != 9 {
		t.Errorf("expected stock back to 9, got %d", f.store.stock[refunded.ProductID])
	}
}
