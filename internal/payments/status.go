package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketforge/event-payments/internal/domain"
)

const statusCacheTTL = 30 * time.Second

// StatusView is the read model served to the storefront while it polls for
// gateway confirmation.
type StatusView struct {
	PublicID       uuid.UUID            `json:"id"`
	Status         domain.PaymentStatus `json:"status"`
	Amount         float64              `json:"amount"`
	RefundedAmount float64              `json:"refunded_amount"`
	PaidAt         *time.Time           `json:"paid_at,omitempty"`
}

func (o *Orchestrator) GetPaymentStatus(ctx context.Context, publicID uuid.UUID) (*StatusView, error) {
	if o.cache != nil {
		var cached StatusView
		hit, err := o.cache.GetPaymentStatus(ctx, publicID.String(), &cached)
		if err != nil {
			o.logger.WithError(err).Warn("status cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	payment, err := o.store.GetPaymentByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		PublicID:       payment.PublicID,
		Status:         payment.Status,
		Amount:         payment.Amount,
		RefundedAmount: payment.RefundedAmount,
		PaidAt:         payment.PaidAt,
	}

	if o.cache != nil {
		if err := o.cache.CachePaymentStatus(ctx, publicID.String(), view, statusCacheTTL); err != nil {
			o.logger.WithError(err).Warn("status cache write failed")
		}
	}
	return view, nil
}
