package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidState         = errors.New("invalid state")
	ErrGatewayUnavailable   = errors.New("gateway unavailable")
)

// StockShortage reports one product line that exceeds current availability.
type StockShortage struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

// StockUnavailableError is the advisory pre-payment stock failure. It carries
// every short line so the caller can report all of them at once.
type StockUnavailableError struct {
	Shortages []StockShortage
}

func (e *StockUnavailableError) Error() string {
	parts := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		parts[i] = fmt.Sprintf("product %s: requested %d, available %d", s.ProductID, s.Requested, s.Available)
	}
	return "stock unavailable: " + strings.Join(parts, "; ")
}

func IsStockUnavailable(err error) bool {
	var su *StockUnavailableError
	return errors.As(err, &su)
}
