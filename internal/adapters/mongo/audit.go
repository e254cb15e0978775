package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketforge/event-payments/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records every payment lifecycle action. The refund path depends
// on it: a refund.gateway_ok record written before the local commit is what
// the operator reconciliation report diffs against gateway state.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("payment_audit"),
		logger: logger,
	}
}

type AuditRecord struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	PaymentID uuid.UUID `bson:"payment_id"`
	OwnerID   uuid.UUID `bson:"owner_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) Record(ctx context.Context, action string, paymentID, ownerID uuid.UUID, data map[string]interface{}) error {
	rec := AuditRecord{
		ID:        uuid.New(),
		Action:    action,
		PaymentID: paymentID,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, rec)
	if err != nil {
		a.logger.Error("failed to insert audit record", err)
		return err
	}
	return nil
}
