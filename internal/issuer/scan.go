package issuer

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/domain"
)

// ScanTicket admits an Issued ticket: Issued -> Used, no stock change.
// Scanning anything else fails with ErrInvalidState; the conditional update
// in the store makes a double scan race-free.
func (i *Issuer) ScanTicket(ctx context.Context, token string) (*domain.Ticket, error) {
	ticket, err := i.store.GetTicketByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := ticket.MarkUsed(i.now()); err != nil {
		return nil, err
	}
	if err := i.store.TransitionTicket(ctx, nil, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// CancelTicket invalidates a single Issued ticket and returns its seat to
// stock. Other tickets of the same payment are untouched.
func (i *Issuer) CancelTicket(ctx context.Context, token string) (*domain.Ticket, error) {
	return i.invalidate(ctx, token, func(t *domain.Ticket) error {
		return t.MarkCancelled(i.now())
	})
}

// RefundTicket marks one ticket Refunded and returns its seat to stock. This
// is ticket invalidation only; the money moves through the refund
// orchestrator.
func (i *Issuer) RefundTicket(ctx context.Context, token string) (*domain.Ticket, error) {
	return i.invalidate(ctx, token, func(t *domain.Ticket) error {
		return t.MarkRefunded(i.now())
	})
}

func (i *Issuer) invalidate(ctx context.Context, token string, transition func(*domain.Ticket) error) (*domain.Ticket, error) {
	ticket, err := i.store.GetTicketByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := transition(ticket); err != nil {
		return nil, err
	}

	err = i.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := i.store.TransitionTicket(ctx, tx, ticket); err != nil {
			return err
		}
		return i.store.IncrementStock(ctx, tx, ticket.ProductID, 1)
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}
