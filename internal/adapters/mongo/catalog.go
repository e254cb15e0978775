package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketforge/event-payments/internal/domain"
	"github.com/ticketforge/event-payments/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository reads the product documents that get frozen into cart
// snapshots. Catalog writes belong to another service.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("products"),
		logger: logger,
	}
}

type ProductDoc struct {
	ID           uuid.UUID `bson:"_id"`
	Name         string    `bson:"name"`
	Category     string    `bson:"category"`
	UnitPrice    float64   `bson:"unit_price"`
	DiscountRate float64   `bson:"discount_rate"`
	Locale       string    `bson:"locale"`
	EventName    string    `bson:"event_name"`
	EventDate    time.Time `bson:"event_date"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d ProductDoc) toDomain() domain.Product {
	return domain.Product{
		ID:           d.ID,
		Name:         d.Name,
		Category:     d.Category,
		UnitPrice:    d.UnitPrice,
		DiscountRate: d.DiscountRate,
		Locale:       d.Locale,
	}
}

// GetProducts resolves every id or fails with ErrNotFound; a payment snapshot
// must never be built from a partial catalog read.
func (c *CatalogRepository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Product, error) {
	cursor, err := c.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		c.logger.Error("failed to list products", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	products := make(map[uuid.UUID]domain.Product, len(ids))
	for cursor.Next(ctx) {
		var doc ProductDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		products[doc.ID] = doc.toDomain()
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, domain.ErrNotFound
		}
	}
	return products, nil
}

// EventInfo returns the display fields the ticket PDF carries.
func (c *CatalogRepository) EventInfo(ctx context.Context, productID uuid.UUID) (name string, date time.Time, err error) {
	var doc ProductDoc
	err = c.coll.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return doc.EventName, doc.EventDate, nil
}
