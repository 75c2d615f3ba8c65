package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalblend/commerce-api/internal/domain/coupon"
)

const (
	selectCouponColumns = `code, description, discount_type, discount, categories,
		min_order_amount, max_discount, usage_limit, used_count,
		valid_from, valid_until, active, first_time_only,
		applicable_users, excluded_users, created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + selectCouponColumns + ` FROM coupons WHERE code = $1`

	listCouponsSQL = `SELECT ` + selectCouponColumns + ` FROM coupons ORDER BY created_at DESC`

	insertCouponSQL = `INSERT INTO coupons (code, description, discount_type, discount,
		categories, min_order_amount, max_discount, usage_limit, used_count,
		valid_from, valid_until, active, first_time_only, applicable_users, excluded_users)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updateCouponSQL = `UPDATE coupons SET description = $2, discount_type = $3,
		discount = $4, categories = $5, min_order_amount = $6, max_discount = $7,
		usage_limit = $8, valid_from = $9, valid_until = $10, active = $11,
		first_time_only = $12, applicable_users = $13, excluded_users = $14,
		updated_at = now()
		WHERE code = $1`

	deactivateCouponSQL = `UPDATE coupons SET active = FALSE, updated_at = now() WHERE code = $1`

	// Guarded increment: succeeds only while used_count is below the usage
	// limit (usage_limit = -1 means unlimited), so concurrent redemptions
	// near the boundary cannot overshoot it.
	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE code = $1 AND (usage_limit = -1 OR used_count < usage_limit)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	// Bulk-import path: refresh the rule, keep used_count.
	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, discount,
		categories, min_order_amount, max_discount, usage_limit, used_count,
		valid_from, valid_until, active, first_time_only, applicable_users, excluded_users)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (code) DO UPDATE SET
			description      = EXCLUDED.description,
			discount_type    = EXCLUDED.discount_type,
			discount         = EXCLUDED.discount,
			categories       = EXCLUDED.categories,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount     = EXCLUDED.max_discount,
			usage_limit      = EXCLUDED.usage_limit,
			valid_from       = EXCLUDED.valid_from,
			valid_until      = EXCLUDED.valid_until,
			active           = EXCLUDED.active,
			first_time_only  = EXCLUDED.first_time_only,
			applicable_users = EXCLUDED.applicable_users,
			excluded_users   = EXCLUDED.excluded_users,
			updated_at       = now()`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
// Codes are stored uppercase; lookups normalize the argument.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, normalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// List returns all coupons, optionally including deactivated ones.
func (r *CouponRepository) List(ctx context.Context, includeInactive bool) ([]coupon.Rule, error) {
	sql := listCouponsSQL
	if !includeInactive {
		sql = `SELECT ` + selectCouponColumns + ` FROM coupons WHERE active ORDER BY created_at DESC`
	}
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanCouponRule)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return rules, nil
}

// Create inserts a new coupon rule. The code is stored uppercase.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Rule) error {
	c.Code = normalizeCode(c.Code)
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.Code, c.Description, string(c.DiscountType), c.Discount,
		orEmptySlice(c.Categories), c.MinOrderAmount, c.MaxDiscount,
		c.UsageLimit, c.UsedCount, c.ValidFrom, c.ValidUntil,
		c.Active, c.FirstTimeOnly,
		orEmptySlice(c.ApplicableUsers), orEmptySlice(c.ExcludedUsers),
	)
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update rewrites a coupon rule. UsedCount is deliberately untouched: the
// counter only moves through IncrementUsage.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Rule) error {
	c.Code = normalizeCode(c.Code)
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.Code, c.Description, string(c.DiscountType), c.Discount,
		orEmptySlice(c.Categories), c.MinOrderAmount, c.MaxDiscount,
		c.UsageLimit, c.ValidFrom, c.ValidUntil,
		c.Active, c.FirstTimeOnly,
		orEmptySlice(c.ApplicableUsers), orEmptySlice(c.ExcludedUsers),
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Upsert inserts or refreshes a coupon rule, keeping any existing usage
// counter. Used by the bulk import tooling.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Rule) error {
	c.Code = normalizeCode(c.Code)
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, c.Description, string(c.DiscountType), c.Discount,
		orEmptySlice(c.Categories), c.MinOrderAmount, c.MaxDiscount,
		c.UsageLimit, c.ValidFrom, c.ValidUntil,
		c.Active, c.FirstTimeOnly,
		orEmptySlice(c.ApplicableUsers), orEmptySlice(c.ExcludedUsers),
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Deactivate soft-deletes a coupon; it is never physically removed.
func (r *CouponRepository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deactivateCouponSQL, normalizeCode(code))
	if err != nil {
		return fmt.Errorf("deactivating coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// IncrementUsage atomically bumps the usage counter, guarded by the usage
// limit. Returns coupon.ErrUsageLimitReached when the guard fails and
// coupon.ErrNotFound when the code does not exist.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) error {
	return incrementCouponUsage(ctx, r.pool, normalizeCode(code))
}

// incrementCouponUsage is shared with the order-creation transaction.
func incrementCouponUsage(ctx context.Context, q querier, code string) error {
	tag, err := q.Exec(ctx, incrementCouponUsageSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing usage for coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
			return fmt.Errorf("checking coupon %q: %w", code, err)
		}
		if !exists {
			return coupon.ErrNotFound
		}
		return coupon.ErrUsageLimitReached
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
	)
	err := row.Scan(
		&rule.Code, &rule.Description, &discountType, &rule.Discount,
		&rule.Categories, &rule.MinOrderAmount, &rule.MaxDiscount,
		&rule.UsageLimit, &rule.UsedCount,
		&rule.ValidFrom, &rule.ValidUntil, &rule.Active, &rule.FirstTimeOnly,
		&rule.ApplicableUsers, &rule.ExcludedUsers,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	return rule, err
}
