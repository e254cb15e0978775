// Package issuer converts a Paid payment into concrete tickets: stock
// decrement, token minting, QR/PDF artifacts, ticket rows and the issuance
// notification, all behind a race-proof per-payment guard.
package issuer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/adapters/pg"
	"github.com/ticketforge/event-payments/internal/artifacts"
	"github.com/ticketforge/event-payments/internal/domain"
	"github.com/ticketforge/event-payments/internal/observability"
	"github.com/ticketforge/event-payments/internal/render"
	"golang.org/x/sync/errgroup"
)

const tokenMintAttempts = 3

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	LockPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error)
	TicketsByPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]domain.Ticket, error)
	DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) (prev, now int, err error)
	IncrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error
	InsertTicket(ctx context.Context, tx pgx.Tx, t domain.Ticket) error
	GetTicketByToken(ctx context.Context, token string) (*domain.Ticket, error)
	TransitionTicket(ctx context.Context, tx pgx.Tx, t *domain.Ticket) error
	InsertOutbox(ctx context.Context, tx pgx.Tx, record pg.OutboxRecord) error
}

type Catalog interface {
	EventInfo(ctx context.Context, productID uuid.UUID) (name string, date time.Time, err error)
}

type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

type QRRenderer interface {
	Render(token string, paymentID, productID uuid.UUID) ([]byte, error)
}

type PDFRenderer interface {
	Render(data render.TicketPDFData) ([]byte, error)
}

type Issuer struct {
	store   Store
	catalog Catalog
	blobs   ArtifactStore
	qr      QRRenderer
	pdf     PDFRenderer
	logger  observability.Logger
	now     func() time.Time
}

func NewIssuer(store Store, catalog Catalog, blobs ArtifactStore, qr QRRenderer, pdf PDFRenderer, logger observability.Logger) *Issuer {
	return &Issuer{
		store:   store,
		catalog: catalog,
		blobs:   blobs,
		qr:      qr,
		pdf:     pdf,
		logger:  logger,
		now:     time.Now,
	}
}

// IssueTickets issues all tickets for a Paid payment exactly once. The
// payment row lock plus the existing-tickets check make replays and races
// no-ops; from outside the transaction either all N tickets exist or none do.
func (i *Issuer) IssueTickets(ctx context.Context, paymentID uuid.UUID) ([]domain.Ticket, error) {
	var issued []domain.Ticket

	err := i.store.WithTx(ctx, func(tx pgx.Tx) error {
		payment, err := i.store.LockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		existing, err := i.store.TicketsByPayment(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			// Replay of a completed issuance; this stays valid after a later
			// refund of the payment.
			issued = existing
			return nil
		}

		// First-time issuance requires Paid strictly: a payment refunded
		// before the delayed task ran must not mint tickets or touch stock.
		if payment.Status != domain.PaymentPaid {
			return errors.Wrapf(domain.ErrInvalidState, "issue tickets on %s payment", payment.Status)
		}

		now := i.now()
		for _, line := range payment.Snapshot {
			// Paid tickets are honored even when the advisory-check race
			// realized; the counter clamps at zero instead of going negative.
			prev, cur, err := i.store.DecrementStock(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if prev-cur < line.Quantity {
				observability.StockOverruns.Inc()
				i.logger.WithField("payment_id", payment.ID).
					WithField("product_id", line.ProductID).
					WithField("requested", line.Quantity).
					WithField("available", prev).
					Warn("inventory overrun at issuance, stock clamped at zero")
			}

			for seat := 0; seat < line.Quantity; seat++ {
				ticket, err := i.mintTicket(ctx, tx, payment, line, now)
				if err != nil {
					return err
				}
				issued = append(issued, *ticket)
			}
		}

		if err := i.uploadArtifacts(ctx, payment, issued); err != nil {
			return err
		}

		return i.enqueueNotification(ctx, tx, payment, issued)
	})
	if err != nil {
		return nil, err
	}

	observability.TicketsIssued.Add(float64(len(issued)))
	return issued, nil
}

// mintTicket inserts one ticket row, re-minting the token on the off chance
// of a collision.
func (i *Issuer) mintTicket(ctx context.Context, tx pgx.Tx, payment *domain.Payment, line domain.SnapshotLine, now time.Time) (*domain.Ticket, error) {
	for attempt := 0; attempt < tokenMintAttempts; attempt++ {
		token, err := domain.NewTicketToken()
		if err != nil {
			return nil, err
		}
		ticket := domain.NewTicket(token, payment, line, now)
		ticket.QRKey = artifacts.QRKey(token)
		ticket.PDFKey = artifacts.PDFKey(token)

		err = i.store.InsertTicket(ctx, tx, ticket)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &ticket, nil
	}
	return nil, errors.Newf("token collision %d times in a row", tokenMintAttempts)
}

// uploadArtifacts renders and stores QR and PDF bytes for each ticket. It
// runs before commit: a failure rolls the whole issuance back, and the
// orphaned blobs are harmless because keys derive from never-reused tokens.
func (i *Issuer) uploadArtifacts(ctx context.Context, payment *domain.Payment, tickets []domain.Ticket) error {
	eventNames := make(map[uuid.UUID]string)
	eventDates := make(map[uuid.UUID]time.Time)
	for _, line := range payment.Snapshot {
		name, date, err := i.catalog.EventInfo(ctx, line.ProductID)
		if err != nil {
			return err
		}
		eventNames[line.ProductID] = name
		eventDates[line.ProductID] = date
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ticket := range tickets {
		ticket := ticket
		g.Go(func() error {
			qrPayload, err := i.qr.Render(ticket.Token, ticket.PaymentID, ticket.ProductID)
			if err != nil {
				return err
			}
			if err := i.blobs.Put(gctx, ticket.QRKey, "application/octet-stream", qrPayload); err != nil {
				return err
			}

			pdfBytes, err := i.pdf.Render(render.TicketPDFData{
				AttendeeName: ticket.OwnerID.String(),
				EventName:    eventNames[ticket.ProductID],
				EventDate:    eventDates[ticket.ProductID],
				ProductName:  ticket.ProductName,
				Category:     ticket.Category,
				Token:        ticket.Token,
				QRPayload:    qrPayload,
			})
			if err != nil {
				return err
			}
			return i.blobs.Put(gctx, ticket.PDFKey, "application/pdf", pdfBytes)
		})
	}
	return g.Wait()
}

// enqueueNotification records one consolidated tickets.issued event in the
// outbox. Delivery is async and best-effort; a notification failure can never
// roll back issuance because the tickets commit with the outbox row.
func (i *Issuer) enqueueNotification(ctx context.Context, tx pgx.Tx, payment *domain.Payment, tickets []domain.Ticket) error {
	type ticketRef struct {
		Token     string    `json:"token"`
		ProductID uuid.UUID `json:"product_id"`
		PDFKey    string    `json:"pdf_key"`
	}
	refs := make([]ticketRef, len(tickets))
	for idx, t := range tickets {
		refs[idx] = ticketRef{Token: t.Token, ProductID: t.ProductID, PDFKey: t.PDFKey}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"payment_id": payment.ID,
		"owner_id":   payment.OwnerID,
		"tickets":    refs,
	})
	if err != nil {
		return err
	}
	return i.store.InsertOutbox(ctx, tx, pg.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "payment",
		AggregateID:   payment.ID,
		EventType:     "tickets.issued",
		Payload:       payload,
		DedupeKey:     payment.ID.String() + ":issued",
	})
}
