package order

import (
	"github.com/shopspring/decimal"

	"github.com/vitalblend/commerce-api/internal/domain/coupon"
)

var hundred = decimal.NewFromInt(100)

// ShippingConfig is the shipping pricing in effect for a single calculation.
// It is loaded from the persisted settings store and passed in explicitly;
// totals never read ambient process state, so recomputation from the same
// inputs always yields the same result.
type ShippingConfig struct {
	FlatFee               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// Totals is the derived pricing of an order.
type Totals struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
}

// CalculateTotals derives subtotal, shipping, discount, and total from the
// snapshotted line items, the shipping configuration, and an optional applied
// coupon. Deterministic and idempotent.
//
// Shipping is free once the subtotal reaches the threshold, else the flat fee.
// The discount is recomputed from the coupon snapshot (percentage or fixed
// against the subtotal); the snapshot's Amount, captured when the coupon was
// evaluated, bounds it from above so caps like maxDiscount survive
// recomputation. The discount never exceeds the subtotal and never goes
// negative.
func CalculateTotals(items []LineItem, cfg ShippingConfig, applied *coupon.Snapshot) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	subtotal = subtotal.Round(2)

	shipping := cfg.FlatFee
	if subtotal.GreaterThanOrEqual(cfg.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	discount := decimal.Zero
	if applied != nil {
		discount = snapshotDiscount(applied, subtotal)
	}

	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Discount:     discount,
		Total:        subtotal.Add(shipping).Sub(discount),
	}
}

// snapshotDiscount recomputes the discount an applied-coupon snapshot yields
// against the given subtotal.
func snapshotDiscount(s *coupon.Snapshot, subtotal decimal.Decimal) decimal.Decimal {
	var raw decimal.Decimal
	switch s.DiscountType {
	case coupon.DiscountPercentage:
		raw = subtotal.Mul(s.Discount).Div(hundred)
	case coupon.DiscountFixed:
		raw = s.Discount
	default:
		return decimal.Zero
	}

	// The evaluated amount bounds the recomputation even when it is zero: a
	// rule whose discountable base matched nothing must stay at zero here too.
	if s.Amount.Sign() >= 0 && raw.GreaterThan(s.Amount) {
		raw = s.Amount
	}
	if raw.GreaterThan(subtotal) {
		raw = subtotal
	}
	if raw.IsNegative() {
		raw = decimal.Zero
	}
	return raw.Round(2)
}
