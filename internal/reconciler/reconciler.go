// Package reconciler maps verified gateway webhook events onto payment
// transitions. Gateways redeliver on timeout, so everything here is safe to
// replay: duplicates are acked, terminal payments are left alone, and ticket
// issuance goes through the outbox task queue exactly once.
package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketforge/event-payments/internal/adapters/pg"
	"github.com/ticketforge/event-payments/internal/domain"
	"github.com/ticketforge/event-payments/internal/observability"
)

const eventDedupeTTL = 24 * time.Hour

// IssueTicketsEvent is the routing key of the task the issuer worker consumes.
const IssueTicketsEvent = "payment.paid"

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetPaymentByGatewayTx(ctx context.Context, txID string) (*domain.Payment, error)
	GetPaymentByPublicID(ctx context.Context, publicID uuid.UUID) (*domain.Payment, error)
	AttachGatewayTx(ctx context.Context, id uuid.UUID, txID string, now time.Time) error
	MarkPaymentPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, record pg.OutboxRecord) error
}

type EventDeduper interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	UnmarkEvent(ctx context.Context, eventID string) error
}

type StatusCache interface {
	InvalidatePaymentStatus(ctx context.Context, publicID string) error
}

type Auditor interface {
	Record(ctx context.Context, action string, paymentID, ownerID uuid.UUID, data map[string]interface{}) error
}

type Reconciler struct {
	store  Store
	dedupe EventDeduper
	cache  StatusCache
	audit  Auditor
	logger observability.Logger
	now    func() time.Time
}

func NewReconciler(store Store, dedupe EventDeduper, cache StatusCache, audit Auditor, logger observability.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		dedupe: dedupe,
		cache:  cache,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// HandleGatewayEvent applies one verified event. Errors returned here are
// acknowledged-and-logged by the HTTP layer; retry comes from gateway-side
// redelivery, not internal loops.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, event domain.GatewayEvent) error {
	first, err := r.dedupe.MarkEventSeen(ctx, event.ID, eventDedupeTTL)
	if err != nil {
		return err
	}
	if !first {
		observability.WebhookEvents.WithLabelValues(string(event.Type), "duplicate").Inc()
		return nil
	}

	switch event.Type {
	case domain.GatewayPaymentSucceeded:
		err = r.handleSucceeded(ctx, event)
	case domain.GatewayPaymentFailed:
		err = r.handleFailed(ctx, event)
	default:
		observability.WebhookEvents.WithLabelValues(string(event.Type), "ignored").Inc()
		return nil
	}
	if err != nil {
		// Release the claim so the gateway's redelivery of this event gets a
		// real retry instead of a duplicate ack.
		if uerr := r.dedupe.UnmarkEvent(ctx, event.ID); uerr != nil {
			r.logger.WithError(uerr).WithField("event_id", event.ID).Warn("event dedupe release failed")
		}
		observability.WebhookEvents.WithLabelValues(string(event.Type), "error").Inc()
		return err
	}
	observability.WebhookEvents.WithLabelValues(string(event.Type), "ok").Inc()
	return nil
}

// lookupPayment resolves the event's payment, normally by transaction id.
// When the intent write was lost after the gateway call succeeded, the row
// has no transaction id yet; the metadata public id carried by the event is
// the recovery path, and the transaction id is backfilled on the way.
func (r *Reconciler) lookupPayment(ctx context.Context, event domain.GatewayEvent) (*domain.Payment, error) {
	payment, err := r.store.GetPaymentByGatewayTx(ctx, event.TransactionID)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || event.PaymentPublicID == "" {
		return nil, errors.Wrapf(err, "transaction %s", event.TransactionID)
	}

	publicID, perr := uuid.Parse(event.PaymentPublicID)
	if perr != nil {
		return nil, errors.Wrapf(err, "transaction %s", event.TransactionID)
	}
	payment, err = r.store.GetPaymentByPublicID(ctx, publicID)
	if err != nil {
		return nil, errors.Wrapf(err, "payment %s", publicID)
	}
	if aerr := r.store.AttachGatewayTx(ctx, payment.ID, event.TransactionID, r.now()); aerr != nil {
		r.logger.WithError(aerr).WithField("payment_id", payment.ID).Warn("gateway tx backfill failed")
	}
	payment.GatewayTxID = event.TransactionID
	return payment, nil
}

func (r *Reconciler) handleSucceeded(ctx context.Context, event domain.GatewayEvent) error {
	payment, err := r.lookupPayment(ctx, event)
	if err != nil {
		return err
	}

	var transitioned bool
	err = r.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		transitioned, err = r.store.MarkPaymentPaid(ctx, tx, payment.ID, r.now())
		if err != nil || !transitioned {
			return err
		}

		// Enqueue issuance in the same transaction as the transition, so the
		// task exists exactly when the payment is Paid, exactly once.
		payload, err := json.Marshal(map[string]interface{}{"payment_id": payment.ID})
		if err != nil {
			return err
		}
		return r.store.InsertOutbox(ctx, tx, pg.OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "payment",
			AggregateID:   payment.ID,
			EventType:     IssueTicketsEvent,
			Payload:       payload,
			DedupeKey:     payment.ID.String() + ":paid",
		})
	})
	if err != nil {
		return err
	}
	if !transitioned {
		r.logger.WithField("payment_id", payment.ID).Debug("payment already terminal, event replay ignored")
		return nil
	}

	if err := r.audit.Record(ctx, "payment.paid", payment.ID, payment.OwnerID, map[string]interface{}{
		"gateway_tx_id": event.TransactionID,
		"event_id":      event.ID,
	}); err != nil {
		r.logger.WithError(err).Warn("audit write failed")
	}
	if err := r.cache.InvalidatePaymentStatus(ctx, payment.PublicID.String()); err != nil {
		r.logger.WithError(err).Warn("status cache invalidation failed")
	}
	return nil
}

func (r *Reconciler) handleFailed(ctx context.Context, event domain.GatewayEvent) error {
	payment, err := r.lookupPayment(ctx, event)
	if err != nil {
		return err
	}

	transitioned, err := r.store.MarkPaymentFailed(ctx, payment.ID, r.now())
	if err != nil {
		return err
	}
	if transitioned {
		if err := r.audit.Record(ctx, "payment.failed", payment.ID, payment.OwnerID, map[string]interface{}{
			"gateway_tx_id": event.TransactionID,
			"event_id":      event.ID,
		}); err != nil {
			r.logger.WithError(err).Warn("audit write failed")
		}
		if err := r.cache.InvalidatePaymentStatus(ctx, payment.PublicID.String()); err != nil {
			r.logger.WithError(err).Warn("status cache invalidation failed")
		}
	}
	return nil
}
