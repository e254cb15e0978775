package payments

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/domain"
	"github.com/ticketforge/event-payments/internal/observability"
)

// Refund refunds up to the payable balance. The requested amount is silently
// capped at the remainder; the returned amount is what was actually refunded.
// The payment row stays locked from the remainder read through the local
// write, so two concurrent refunds of the same payment cannot both reach the
// gateway with a stale remainder. Ticket statuses are untouched: financial
// refund and ticket invalidation are separate administrative actions.
func (o *Orchestrator) Refund(ctx context.Context, publicID uuid.UUID, requested float64) (*domain.Payment, float64, error) {
	if requested <= 0 {
		return nil, 0, errors.Wrap(domain.ErrInvalidInput, "refund amount must be positive")
	}

	resolved, err := o.store.GetPaymentByPublicID(ctx, publicID)
	if err != nil {
		return nil, 0, err
	}

	var payment *domain.Payment
	var capped float64
	err = o.store.WithTx(ctx, func(tx pgx.Tx) error {
		payment, err = o.store.LockPayment(ctx, tx, resolved.ID)
		if err != nil {
			return err
		}
		if payment.Status != domain.PaymentPaid {
			return errors.Wrapf(domain.ErrInvalidState, "refund on %s payment", payment.Status)
		}

		capped = requested
		if remaining := payment.Remaining(); capped > remaining {
			capped = remaining
		}
		if capped < domain.AmountEpsilon {
			return errors.Wrap(domain.ErrInvalidState, "nothing left to refund")
		}

		// External call under the row lock, all-or-nothing: a gateway error
		// aborts with zero local change. A crash between gateway success and
		// commit is the one unsafe window; the refund.gateway_ok audit record
		// below is what the operator reconciliation report keys on.
		refundID, gerr := o.gateway.Refund(ctx, payment.GatewayTxID, capped)
		if gerr != nil {
			observability.GatewayCalls.WithLabelValues("refund", "error").Inc()
			observability.RefundsTotal.WithLabelValues("gateway_failed").Inc()
			return gerr
		}
		observability.GatewayCalls.WithLabelValues("refund", "ok").Inc()

		if aerr := o.audit.Record(ctx, "refund.gateway_ok", payment.ID, payment.OwnerID, map[string]interface{}{
			"gateway_tx_id": payment.GatewayTxID,
			"refund_id":     refundID,
			"amount":        capped,
		}); aerr != nil {
			o.logger.WithError(aerr).WithField("payment_id", payment.ID).Error("audit write failed after gateway refund")
		}

		if err := payment.ApplyRefund(capped, o.now()); err != nil {
			return err
		}
		return o.store.ApplyRefund(ctx, tx, payment)
	})
	if err != nil {
		return nil, 0, err
	}

	if o.cache != nil {
		if err := o.cache.InvalidatePaymentStatus(ctx, publicID.String()); err != nil {
			o.logger.WithError(err).Warn("status cache invalidation failed")
		}
	}

	outcome := "partial"
	if payment.Status == domain.PaymentRefunded {
		outcome = "full"
	}
	observability.RefundsTotal.WithLabelValues(outcome).Inc()
	return payment, capped, nil
}
