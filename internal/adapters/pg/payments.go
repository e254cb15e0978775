package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/domain"
)

const paymentColumns = `id, public_id, owner_id, cart_id, snapshot, amount, method, status,
		gateway_tx_id, gateway_token, paid_at, refunded_at, refunded_amount, created_at, updated_at`

// CreatePayment inserts a Pending payment. A partial unique index on
// (owner_id, cart_id) WHERE status = 'PENDING' makes a concurrent duplicate
// surface as domain.ErrConflict.
func (r *Repository) CreatePayment(ctx context.Context, tx pgx.Tx, p domain.Payment) error {
	snapshot, err := json.Marshal(p.Snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, public_id, owner_id, cart_id, snapshot, amount, method, status,
			refunded_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`, p.ID, p.PublicID, p.OwnerID, p.CartID, snapshot, p.Amount, p.Method, p.Status, p.CreatedAt)
	return mapPgError(err)
}

func (r *Repository) scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var snapshot []byte
	var gatewayTxID, gatewayToken *string
	err := row.Scan(&p.ID, &p.PublicID, &p.OwnerID, &p.CartID, &snapshot, &p.Amount, &p.Method,
		&p.Status, &gatewayTxID, &gatewayToken, &p.PaidAt, &p.RefundedAt, &p.RefundedAmount,
		&p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if gatewayTxID != nil {
		p.GatewayTxID = *gatewayTxID
	}
	if gatewayToken != nil {
		p.GatewayToken = *gatewayToken
	}
	if err := json.Unmarshal(snapshot, &p.Snapshot); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	return &p, nil
}

func (r *Repository) GetPaymentByPublicID(ctx context.Context, publicID uuid.UUID) (*domain.Payment, error) {
	return r.scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE public_id = $1
	`, publicID))
}

func (r *Repository) GetPaymentByGatewayTx(ctx context.Context, txID string) (*domain.Payment, error) {
	return r.scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE gateway_tx_id = $1
	`, txID))
}

// GetPendingPaymentForCart returns the unfinished checkout for (owner, cart),
// or ErrNotFound.
func (r *Repository) GetPendingPaymentForCart(ctx context.Context, ownerID, cartID uuid.UUID) (*domain.Payment, error) {
	return r.scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE owner_id = $1 AND cart_id = $2 AND status = 'PENDING'
	`, ownerID, cartID))
}

// LockPayment reads the payment row FOR UPDATE inside tx. The issuance guard
// relies on this lock holding until commit.
func (r *Repository) LockPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	return r.scanPayment(tx.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE
	`, id))
}

// SetGatewayIntent stores the gateway transaction id and handshake token on a
// still-Pending payment.
func (r *Repository) SetGatewayIntent(ctx context.Context, id uuid.UUID, txID, token string, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE payments SET gateway_tx_id = $2, gateway_token = $3, updated_at = $4
		WHERE id = $1 AND status = 'PENDING'
	`, id, txID, token, now)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AttachGatewayTx backfills the transaction id on a payment whose intent
// write was lost after the gateway call succeeded. An already attached id is
// never overwritten.
func (r *Repository) AttachGatewayTx(ctx context.Context, id uuid.UUID, txID string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments SET gateway_tx_id = $2, updated_at = $3
		WHERE id = $1 AND gateway_tx_id IS NULL
	`, id, txID, now)
	return err
}

// MarkPaymentPaid transitions Pending -> Paid inside tx. Returns false without
// error when the payment is already terminal, so replays are no-ops.
func (r *Repository) MarkPaymentPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE payments SET status = 'PAID', paid_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// MarkPaymentFailed transitions Pending -> Failed. The row is retained for
// audit, never deleted.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = 'FAILED', updated_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// ApplyRefund persists the cumulative refund state computed by the caller.
func (r *Repository) ApplyRefund(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	result, err := tx.Exec(ctx, `
		UPDATE payments SET status = $2, refunded_amount = $3, refunded_at = $4, updated_at = $5
		WHERE id = $1 AND status IN ('PAID', 'REFUNDED')
	`, p.ID, p.Status, p.RefundedAmount, p.RefundedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

// ListStalePending is the hook for an external sweeper of abandoned checkouts.
func (r *Repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM payments WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
