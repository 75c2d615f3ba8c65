package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the
	// discountable base.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the
	// discountable base.
	DiscountFixed DiscountType = "fixed"
)

// Unlimited marks a usage limit or discount cap as unbounded.
const Unlimited = -1

var (
	// ErrNotFound is returned when a coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrNotApplicable is returned when a coupon exists but cannot be
	// applied to the given order context. This is an expected outcome,
	// not a failure.
	ErrNotApplicable = errors.New("coupon not applicable")
	// ErrUsageLimitReached is returned when a redemption would exceed the
	// coupon's usage limit.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
// MaxDiscount and UsageLimit use Unlimited (-1) for "no cap" / "no limit".
type Rule struct {
	Code            string
	Description     string
	DiscountType    DiscountType
	Discount        decimal.Decimal
	Categories      []string
	MinOrderAmount  decimal.Decimal
	MaxDiscount     decimal.Decimal
	UsageLimit      int
	UsedCount       int
	ValidFrom       time.Time
	ValidUntil      time.Time
	Active          bool
	FirstTimeOnly   bool
	ApplicableUsers []string
	ExcludedUsers   []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Snapshot is the applied-coupon record embedded in an order. It carries
// everything needed to recompute the discount without a live coupon lookup.
type Snapshot struct {
	Code         string          `json:"code"`
	DiscountType DiscountType    `json:"discountType"`
	Discount     decimal.Decimal `json:"discount"`
	Amount       decimal.Decimal `json:"amount"`
}

// Item is a line item viewed by the discount calculation: snapshotted price,
// quantity, and the category used for category-restricted coupons.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

// Repository provides lookup and mutation of coupon rules.
//
// IncrementUsage must be a conditional atomic increment: it succeeds only
// while used_count is below the usage limit, so concurrent redemptions near
// the boundary cannot overshoot it.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	List(ctx context.Context, includeInactive bool) ([]Rule, error)
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	Deactivate(ctx context.Context, code string) error

	// IncrementUsage atomically bumps used_count, guarded by the usage
	// limit. Returns ErrUsageLimitReached when the guard fails.
	IncrementUsage(ctx context.Context, code string) error
}
