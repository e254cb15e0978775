package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketIssued    TicketStatus = "ISSUED"
	TicketUsed      TicketStatus = "USED"
	TicketRefunded  TicketStatus = "REFUNDED"
	TicketCancelled TicketStatus = "CANCELLED"
)

// Ticket is one admission credential for exactly one purchased seat.
type Ticket struct {
	ID          uuid.UUID
	Token       string
	PaymentID   uuid.UUID
	OwnerID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Category    string
	PaidPrice   float64
	Locale      string
	Status      TicketStatus
	UsedAt      *time.Time
	RefundedAt  *time.Time
	CancelledAt *time.Time
	QRKey       string
	PDFKey      string
	CreatedAt   time.Time
}

// NewTicketToken mints a non-guessable 32-char hex token.
func NewTicketToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewTicket creates an Issued ticket for one seat of a snapshot line.
func NewTicket(token string, p *Payment, line SnapshotLine, now time.Time) Ticket {
	return Ticket{
		ID:          uuid.New(),
		Token:       token,
		PaymentID:   p.ID,
		OwnerID:     p.OwnerID,
		ProductID:   line.ProductID,
		ProductName: line.Name,
		Category:    line.Category,
		PaidPrice:   line.DiscountedPrice,
		Locale:      line.Locale,
		Status:      TicketIssued,
		CreatedAt:   now,
	}
}

func (t *Ticket) MarkUsed(now time.Time) error {
	if t.Status != TicketIssued {
		return ErrInvalidState
	}
	t.Status = TicketUsed
	t.UsedAt = &now
	return nil
}

func (t *Ticket) MarkRefunded(now time.Time) error {
	if t.Status != TicketIssued {
		return ErrInvalidState
	}
	t.Status = TicketRefunded
	t.RefundedAt = &now
	return nil
}

func (t *Ticket) MarkCancelled(now time.Time) error {
	if t.Status != TicketIssued {
		return ErrInvalidState
	}
	t.Status = TicketCancelled
	t.CancelledAt = &now
	return nil
}
