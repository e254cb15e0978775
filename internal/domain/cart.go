package domain

import "github.com/google/uuid"

// Cart is the mutable pre-checkout shape. Only its id and lines matter here;
// cart CRUD belongs to an external collaborator.
type Cart struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Lines   []CartLine
}

type CartLine struct {
	ProductID uuid.UUID
	Quantity  int
}

// Product is the catalog view needed to freeze a snapshot line.
type Product struct {
	ID           uuid.UUID
	Name         string
	Category     string
	UnitPrice    float64
	DiscountRate float64
	Locale       string
}

// SnapshotLineFor freezes one cart line against the catalog product.
func SnapshotLineFor(p Product, quantity int) SnapshotLine {
	return SnapshotLine{
		ProductID:       p.ID,
		Name:            p.Name,
		Category:        p.Category,
		Quantity:        quantity,
		UnitPrice:       p.UnitPrice,
		DiscountRate:    p.DiscountRate,
		DiscountedPrice: DiscountedUnitPrice(p.UnitPrice, p.DiscountRate),
		Locale:          p.Locale,
	}
}
