package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ticketforge/event-payments/internal/domain"
)

func TestNewTicketToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := domain.NewTicketToken()
		if err != nil {
			t.Fatal(err)
		}
		if len(tok) != 32 {
			t.Fatalf("expected 32-char token, got %q", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestTicket_Transitions(t *testing.T) {
	now := time.Now()
	p := domain.NewPayment(uuid.New(), uuid.New(), "card", snapshotFixture(), now)
	line := p.Snapshot[0]

	tok, err := domain.NewTicketToken()
	if err != nil {
		t.Fatal(err)
	}
	tk := domain.NewTicket(tok, &p, line, now)
	if tk.Status != domain.TicketIssued {
		t.Fatalf("expected ISSUED, got %s", tk.Status)
	}
	if tk.PaidPrice != line.DiscountedPrice {
		t.Errorf("expected paid price %v, got %v", line.DiscountedPrice, tk.PaidPrice)
	}

	if err := tk.MarkUsed(now); err != nil {
		t.Fatalf("issued -> used: %v", err)
	}
	if err := tk.MarkUsed(now); err != domain.ErrInvalidState {
		t.Errorf("used -> used should be invalid, got %v", err)
	}
	if err := tk.MarkCancelled(now); err != domain.ErrInvalidState {
		t.Errorf("used -> cancelled should be invalid, got %v", err)
	}

	tk2 := domain.NewTicket("deadbeef", &p, line, now)
	if err := tk2.MarkCancelled(now); err != nil {
		t.Fatalf("issued -> cancelled: %v", err)
	}
	if tk2.CancelledAt == nil {
		t.Error("expected cancelled_at set")
	}
}
