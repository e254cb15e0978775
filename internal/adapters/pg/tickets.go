package pg

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/domain"
)

const ticketColumns = `id, token, payment_id, owner_id, product_id, product_name, category,
		paid_price, locale, status, used_at, refunded_at, cancelled_at, qr_key, pdf_key, created_at`

// InsertTicket persists one Issued ticket row. A token collision reports
// domain.ErrConflict via DO NOTHING so the surrounding transaction survives
// and the issuer can re-mint.
func (r *Repository) InsertTicket(ctx context.Context, tx pgx.Tx, t domain.Ticket) error {
	result, err := tx.Exec(ctx, `
		INSERT INTO tickets (id, token, payment_id, owner_id, product_id, product_name, category,
			paid_price, locale, status, qr_key, pdf_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (token) DO NOTHING
	`, t.ID, t.Token, t.PaymentID, t.OwnerID, t.ProductID, t.ProductName, t.Category,
		t.PaidPrice, t.Locale, t.Status, t.QRKey, t.PDFKey, t.CreatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()
	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		err := rows.Scan(&t.ID, &t.Token, &t.PaymentID, &t.OwnerID, &t.ProductID, &t.ProductName,
			&t.Category, &t.PaidPrice, &t.Locale, &t.Status, &t.UsedAt, &t.RefundedAt,
			&t.CancelledAt, &t.QRKey, &t.PDFKey, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// TicketsByPayment lists all tickets of a payment, in tx when the caller
// holds the issuance lock, or against the pool with a nil tx.
func (r *Repository) TicketsByPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE payment_id = $1 ORDER BY created_at ASC`
	var rows pgx.Rows
	var err error
	if tx != nil {
		rows, err = tx.Query(ctx, query, paymentID)
	} else {
		rows, err = r.pool.Query(ctx, query, paymentID)
	}
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

func (r *Repository) GetTicketByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE token = $1
	`, token)
	if err != nil {
		return nil, err
	}
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, domain.ErrNotFound
	}
	return &tickets[0], nil
}

// TransitionTicket moves an Issued ticket to its new terminal status. The
// WHERE clause makes the check-then-act race-free; a second scan of the same
// ticket reports ErrInvalidState.
func (r *Repository) TransitionTicket(ctx context.Context, tx pgx.Tx, t *domain.Ticket) error {
	exec := r.pool.Exec
	if tx != nil {
		exec = tx.Exec
	}
	result, err := exec(ctx, `
		UPDATE tickets SET status = $2, used_at = $3, refunded_at = $4, cancelled_at = $5
		WHERE id = $1 AND status = 'ISSUED'
	`, t.ID, t.Status, t.UsedAt, t.RefundedAt, t.CancelledAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}
