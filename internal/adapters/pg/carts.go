package pg

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/domain"
)

// GetCart reads a cart and its line items by id. Cart mutation belongs to an
// external collaborator; checkout only consumes it.
func (r *Repository) GetCart(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	var cart domain.Cart
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id FROM carts WHERE id = $1
	`, id).Scan(&cart.ID, &cart.OwnerID)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_id, quantity FROM cart_items WHERE cart_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}
	return &cart, rows.Err()
}
