package domain

import "github.com/shopspring/decimal"

// AmountEpsilon is the tolerance used when deciding whether a cumulative
// refund covers the full payment amount.
const AmountEpsilon = 0.01

// RoundPrice rounds a monetary value half-up to 2 decimal places.
func RoundPrice(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// DiscountedUnitPrice applies a discount rate in [0,1] to a unit price and
// rounds the result to 2 places.
func DiscountedUnitPrice(unitPrice, discountRate float64) float64 {
	unit := decimal.NewFromFloat(unitPrice)
	rate := decimal.NewFromFloat(discountRate)
	f, _ := unit.Mul(decimal.NewFromInt(1).Sub(rate)).Round(2).Float64()
	return f
}

// LineTotal is the rounded discounted unit price times quantity, rounded
// again to 2 places. Each line is rounded before summation; the stored
// payment amount depends on this exact order.
func LineTotal(discountedPrice float64, quantity int) float64 {
	f, _ := decimal.NewFromFloat(discountedPrice).
		Mul(decimal.NewFromInt(int64(quantity))).
		Round(2).
		Float64()
	return f
}

// SnapshotAmount sums the per-line totals of a cart snapshot.
func SnapshotAmount(lines []SnapshotLine) float64 {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(decimal.NewFromFloat(LineTotal(l.DiscountedPrice, l.Quantity)))
	}
	f, _ := sum.Float64()
	return f
}
