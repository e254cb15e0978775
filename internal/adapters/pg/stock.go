package pg

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/domain"
)

// StockAvailable returns the advisory available quantity per product. A
// product without a counter row reads as zero.
func (r *Repository) StockAvailable(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, available FROM stock WHERE product_id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	available := make(map[uuid.UUID]int, len(productIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		available[id] = n
	}
	return available, rows.Err()
}

// DecrementStock is a single conditional update clamped at zero. It returns
// the counter values before and after, so the caller can detect an overrun
// (applied < quantity) without a separate read.
func (r *Repository) DecrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) (prev, now int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE stock s SET available = GREATEST(s.available - $2, 0)
		FROM (SELECT available FROM stock WHERE product_id = $1 FOR UPDATE) old
		WHERE s.product_id = $1
		RETURNING old.available, s.available
	`, productID, quantity).Scan(&prev, &now)
	if err == pgx.ErrNoRows {
		return 0, 0, domain.ErrNotFound
	}
	return prev, now, err
}

// IncrementStock returns one unit to the counter when a ticket becomes
// Refunded or Cancelled.
func (r *Repository) IncrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error {
	exec := r.pool.Exec
	if tx != nil {
		exec = tx.Exec
	}
	result, err := exec(ctx, `
		UPDATE stock SET available = available + $2 WHERE product_id = $1
	`, productID, quantity)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
