// Package payments holds the payment orchestrator: it converts a cart into a
// Pending payment with a gateway intent, serves status reads, and runs the
// refund flow.
package payments

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/domain"
	"github.com/ticketforge/event-payments/internal/observability"
)

// Store is the slice of the pg repository the orchestrator needs. Every
// relation is fetched explicitly by id; there are no implicit loads.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreatePayment(ctx context.Context, tx pgx.Tx, p domain.Payment) error
	GetPendingPaymentForCart(ctx context.Context, ownerID, cartID uuid.UUID) (*domain.Payment, error)
	GetPaymentByPublicID(ctx context.Context, publicID uuid.UUID) (*domain.Payment, error)
	LockPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error)
	SetGatewayIntent(ctx context.Context, id uuid.UUID, txID, token string, now time.Time) error
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ApplyRefund(ctx context.Context, tx pgx.Tx, p *domain.Payment) error
	StockAvailable(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]int, error)
	GetCart(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
}

type Catalog interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error)
}

// Gateway is the thin payment-processor client. Calls block with a bounded
// timeout; a failure is surfaced, never retried at this level.
type Gateway interface {
	CreateIntent(ctx context.Context, amount float64, currency string, metadata map[string]string) (txID, handshakeToken string, err error)
	Refund(ctx context.Context, transactionID string, amount float64) (refundID string, err error)
}

type Auditor interface {
	Record(ctx context.Context, action string, paymentID, ownerID uuid.UUID, data map[string]interface{}) error
}

type StatusCache interface {
	CachePaymentStatus(ctx context.Context, publicID string, v interface{}, ttl time.Duration) error
	GetPaymentStatus(ctx context.Context, publicID string, v interface{}) (bool, error)
	InvalidatePaymentStatus(ctx context.Context, publicID string) error
}

type Orchestrator struct {
	store    Store
	catalog  Catalog
	gateway  Gateway
	audit    Auditor
	cache    StatusCache
	logger   observability.Logger
	currency string
	now      func() time.Time
}

func NewOrchestrator(store Store, catalog Catalog, gateway Gateway, audit Auditor, cache StatusCache, logger observability.Logger, currency string) *Orchestrator {
	return &Orchestrator{
		store:    store,
		catalog:  catalog,
		gateway:  gateway,
		audit:    audit,
		cache:    cache,
		logger:   logger,
		currency: currency,
		now:      time.Now,
	}
}

// CreatePayment converts a cart into a Pending payment with a gateway intent.
// It is idempotent per (owner, cart): an unfinished checkout is returned
// unchanged and no second gateway transaction is opened.
func (o *Orchestrator) CreatePayment(ctx context.Context, ownerID, cartID uuid.UUID, method string) (*domain.Payment, error) {
	existing, err := o.store.GetPendingPaymentForCart(ctx, ownerID, cartID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	cart, err := o.store.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	if len(cart.Lines) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "empty cart")
	}

	productIDs := make([]uuid.UUID, len(cart.Lines))
	for i, l := range cart.Lines {
		productIDs[i] = l.ProductID
	}
	products, err := o.catalog.GetProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	// Advisory only: the authoritative decrement happens at issuance.
	available, err := o.store.StockAvailable(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	var shortages []domain.StockShortage
	for _, l := range cart.Lines {
		if available[l.ProductID] < l.Quantity {
			shortages = append(shortages, domain.StockShortage{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: available[l.ProductID],
			})
		}
	}
	if len(shortages) > 0 {
		observability.PaymentsCreated.WithLabelValues("stock_unavailable").Inc()
		return nil, &domain.StockUnavailableError{Shortages: shortages}
	}

	lines := make([]domain.SnapshotLine, len(cart.Lines))
	for i, l := range cart.Lines {
		lines[i] = domain.SnapshotLineFor(products[l.ProductID], l.Quantity)
	}
	payment := domain.NewPayment(ownerID, cartID, method, lines, o.now())

	err = o.store.WithTx(ctx, func(tx pgx.Tx) error {
		return o.store.CreatePayment(ctx, tx, payment)
	})
	if errors.Is(err, domain.ErrConflict) {
		// Lost the race to a concurrent checkout of the same cart.
		return o.store.GetPendingPaymentForCart(ctx, ownerID, cartID)
	}
	if err != nil {
		return nil, err
	}
	if err := o.audit.Record(ctx, "payment.created", payment.ID, payment.OwnerID, map[string]interface{}{
		"public_id": payment.PublicID,
		"cart_id":   payment.CartID,
		"amount":    payment.Amount,
		"method":    payment.Method,
	}); err != nil {
		o.logger.WithError(err).Warn("audit write failed")
	}

	txID, token, err := o.gateway.CreateIntent(ctx, payment.Amount, o.currency, map[string]string{
		domain.MetadataPublicID: payment.PublicID.String(),
	})
	if err != nil {
		observability.GatewayCalls.WithLabelValues("create_intent", "error").Inc()
		observability.PaymentsCreated.WithLabelValues("gateway_failed").Inc()
		// The row is kept as Failed for audit, never deleted.
		if _, ferr := o.store.MarkPaymentFailed(ctx, payment.ID, o.now()); ferr != nil {
			o.logger.WithError(ferr).WithField("payment_id", payment.ID).Error("failed to mark payment failed")
		}
		return nil, err
	}
	observability.GatewayCalls.WithLabelValues("create_intent", "ok").Inc()

	if err := o.store.SetGatewayIntent(ctx, payment.ID, txID, token, o.now()); err != nil {
		// The Pending row plus gateway metadata is enough for the webhook to
		// reconcile this later; do not fail the checkout.
		o.logger.WithError(err).WithField("payment_id", payment.ID).Error("failed to store gateway intent")
	}
	payment.GatewayTxID = txID
	payment.GatewayToken = token

	observability.PaymentsCreated.WithLabelValues("pending").Inc()
	return &payment, nil
}
