package coupon

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ApplyContext describes the order being priced, for eligibility checks.
type ApplyContext struct {
	OrderAmount       decimal.Decimal
	UserID            string
	FirstTimeCustomer bool
}

// IsRedeemable reports whether the coupon can still be redeemed at the given
// instant: active, inside its validity window, and under its usage limit.
func IsRedeemable(r *Rule, now time.Time) bool {
	if !r.Active {
		return false
	}
	if now.Before(r.ValidFrom) || now.After(r.ValidUntil) {
		return false
	}
	if r.UsageLimit != Unlimited && r.UsedCount >= r.UsageLimit {
		return false
	}
	return true
}

// CanApply reports whether the coupon applies to the given order context.
// All checks are expected-outcome eligibility rules, not failures.
func CanApply(r *Rule, ctx ApplyContext, now time.Time) bool {
	if !IsRedeemable(r, now) {
		return false
	}
	if ctx.OrderAmount.LessThan(r.MinOrderAmount) {
		return false
	}
	if r.FirstTimeOnly && !ctx.FirstTimeCustomer {
		return false
	}
	if ctx.UserID != "" && slices.Contains(r.ExcludedUsers, ctx.UserID) {
		return false
	}
	if len(r.ApplicableUsers) > 0 && !slices.Contains(r.ApplicableUsers, ctx.UserID) {
		return false
	}
	return true
}

// ComputeDiscount calculates the discount the rule yields for the given order.
//
// The discountable base is the full order amount unless the rule restricts
// categories and items are supplied, in which case only matching-category
// line values count. The raw discount (percentage of base, or fixed value)
// is capped at MaxDiscount when set, then clamped to the base so it can
// never exceed what it discounts, and never goes negative.
//
// Pure function: redemption counting is a separate explicit step invoked only
// after the order is durably committed, so repricing or abandoning a checkout
// never bumps the counter.
func ComputeDiscount(r *Rule, orderAmount decimal.Decimal, items []Item) decimal.Decimal {
	base := discountableBase(r, orderAmount, items)

	var raw decimal.Decimal
	switch r.DiscountType {
	case DiscountPercentage:
		raw = base.Mul(r.Discount).Div(hundred)
	case DiscountFixed:
		raw = r.Discount
	default:
		return decimal.Zero
	}

	if r.MaxDiscount.Sign() >= 0 && raw.GreaterThan(r.MaxDiscount) {
		raw = r.MaxDiscount
	}
	if raw.GreaterThan(base) {
		raw = base
	}
	if raw.IsNegative() {
		raw = decimal.Zero
	}
	return raw.Round(2)
}

// discountableBase returns the portion of the order eligible for the rule's
// discount.
func discountableBase(r *Rule, orderAmount decimal.Decimal, items []Item) decimal.Decimal {
	if len(r.Categories) == 0 || len(items) == 0 {
		return orderAmount
	}
	base := decimal.Zero
	for _, it := range items {
		if slices.Contains(r.Categories, it.Category) {
			base = base.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	return base
}
