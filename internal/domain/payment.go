package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// SnapshotLine is one frozen cart line inside a payment. Catalog edits after
// payment creation never alter it.
type SnapshotLine struct {
	ProductID       uuid.UUID `json:"product_id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	Quantity        int       `json:"quantity"`
	UnitPrice       float64   `json:"unit_price"`
	DiscountRate    float64   `json:"discount_rate"`
	DiscountedPrice float64   `json:"discounted_price"`
	Locale          string    `json:"locale"`
}

type Payment struct {
	ID             uuid.UUID
	PublicID       uuid.UUID
	OwnerID        uuid.UUID
	CartID         uuid.UUID
	Snapshot       []SnapshotLine
	Amount         float64
	Method         string
	Status         PaymentStatus
	GatewayTxID    string
	GatewayToken   string
	PaidAt         *time.Time
	RefundedAt     *time.Time
	RefundedAmount float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPayment builds a Pending payment from a frozen snapshot. The amount is
// the sum of per-line totals, each line rounded before summation.
func NewPayment(ownerID, cartID uuid.UUID, method string, lines []SnapshotLine, now time.Time) Payment {
	return Payment{
		ID:        uuid.New(),
		PublicID:  uuid.New(),
		OwnerID:   ownerID,
		CartID:    cartID,
		Snapshot:  lines,
		Amount:    SnapshotAmount(lines),
		Method:    method,
		Status:    PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TotalQuantity is the number of seats the snapshot purchases, one ticket each.
func (p *Payment) TotalQuantity() int {
	n := 0
	for _, l := range p.Snapshot {
		n += l.Quantity
	}
	return n
}

func (p *Payment) MarkPaid(now time.Time) error {
	if p.Status != PaymentPending {
		return ErrInvalidState
	}
	p.Status = PaymentPaid
	p.PaidAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Payment) MarkFailed(now time.Time) error {
	if p.Status != PaymentPending {
		return ErrInvalidState
	}
	p.Status = PaymentFailed
	p.UpdatedAt = now
	return nil
}

// Remaining is the refundable balance.
func (p *Payment) Remaining() float64 {
	return RoundPrice(p.Amount - p.RefundedAmount)
}

// ApplyRefund adds an already-capped refund amount. The status flips to
// Refunded once the cumulative total is within AmountEpsilon of the amount;
// partial refunds keep the payment Paid.
func (p *Payment) ApplyRefund(amount float64, now time.Time) error {
	if p.Status != PaymentPaid {
		return ErrInvalidState
	}
	p.RefundedAmount = RoundPrice(p.RefundedAmount + amount)
	p.RefundedAt = &now
	p.UpdatedAt = now
	if math.Abs(p.Amount-p.RefundedAmount) < AmountEpsilon {
		p.Status = PaymentRefunded
	}
	return nil
}
