package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalblend/commerce-api/internal/domain/order"
	"github.com/vitalblend/commerce-api/internal/domain/product"
	"github.com/vitalblend/commerce-api/internal/metrics"
)

const (
	selectOrderColumns = `id, number, user_id, items, address, payment_method,
		payment_status, status, subtotal, shipping_cost, discount, total, coupon,
		payment_ref, tracking_number, carrier, notes, cancellation, return_request,
		shipped_at, delivered_at, created_at, updated_at`

	getOrderByIDSQL = `SELECT ` + selectOrderColumns + ` FROM orders WHERE id = $1`

	insertOrderSQL = `INSERT INTO orders (id, number, user_id, items, address,
		payment_method, payment_status, status, subtotal, shipping_cost, discount,
		total, coupon, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	updateOrderSQL = `UPDATE orders SET payment_status = $2, status = $3,
		payment_ref = $4, tracking_number = $5, carrier = $6, notes = $7,
		cancellation = $8, return_request = $9, shipped_at = $10, delivered_at = $11,
		updated_at = $12
		WHERE id = $1 AND updated_at = $13`

	countOrdersByUserSQL = `SELECT count(*) FROM orders WHERE user_id = $1`

	// Per-day atomic sequence: first order of a day inserts the row with
	// counter 1, later ones bump it, all in one statement evaluated at
	// assignment time.
	nextDailySequenceSQL = `INSERT INTO order_counters (day, counter) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET counter = order_counters.counter + 1
		RETURNING counter`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items, the address, the coupon snapshot, and the cancellation/return
// sub-records are stored as JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order in a single transaction covering the
// conditional stock decrements, the order-number allocation, the insert, and
// the guarded coupon-usage increment. A failed stock or coupon guard aborts
// the whole transaction, so a crash or lost race can never leave stock
// decremented without a matching order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, it := range o.Items {
		if err := decrementStock(ctx, tx, it.ProductID, it.SizeLabel, it.Quantity); err != nil {
			if errors.Is(err, product.ErrInsufficientStock) {
				metrics.StockConflictsTotal.Inc()
				return &order.OutOfStockError{ProductID: it.ProductID, SizeLabel: it.SizeLabel}
			}
			return err
		}
	}

	day := o.CreatedAt.UTC()
	var seq int
	if err := tx.QueryRow(ctx, nextDailySequenceSQL, day.Format("2006-01-02")).Scan(&seq); err != nil {
		return fmt.Errorf("allocating order number: %w", err)
	}
	o.Number = order.FormatOrderNumber(day, seq)

	items, address, couponSnap, err := marshalOrderJSON(o)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, items, address,
		o.PaymentMethod, string(o.PaymentStatus), string(o.Status),
		o.Subtotal, o.ShippingCost, o.Discount, o.Total,
		couponSnap, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}

	if o.Coupon != nil {
		if err := incrementCouponUsage(ctx, tx, o.Coupon.Code); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns one order. Returns order.ErrNotFound when absent.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	sql := `SELECT ` + selectOrderColumns + ` FROM orders WHERE TRUE`
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		sql += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		sql += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return list, nil
}

// Update rewrites the mutable fields of an order. The number, user, items,
// and totals are immutable after creation and deliberately not in the SET
// list.
// Update writes the order back guarded by its previous updated_at. Zero rows
// means another writer got there first, never that the order vanished; orders
// are not deleted.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, expectedUpdatedAt time.Time) error {
	cancellation, returnReq, err := marshalSubRecords(o)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, string(o.PaymentStatus), string(o.Status),
		o.PaymentRef, o.TrackingNumber, o.Carrier, o.Notes,
		cancellation, returnReq, o.ShippedAt, o.DeliveredAt, o.UpdatedAt,
		expectedUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConflict
	}
	return nil
}

// CountByUser returns how many orders the user has placed. Used for
// first-time-customer coupon eligibility.
func (r *OrderRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countOrdersByUserSQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders for user %q: %w", userID, err)
	}
	return n, nil
}

func marshalOrderJSON(o *order.Order) (items, address, couponSnap []byte, err error) {
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding order items: %w", err)
	}
	if address, err = json.Marshal(o.Address); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding order address: %w", err)
	}
	if o.Coupon != nil {
		if couponSnap, err = json.Marshal(o.Coupon); err != nil {
			return nil, nil, nil, fmt.Errorf("encoding coupon snapshot: %w", err)
		}
	}
	return items, address, couponSnap, nil
}

func marshalSubRecords(o *order.Order) (cancellation, returnReq []byte, err error) {
	if o.Cancellation != nil {
		if cancellation, err = json.Marshal(o.Cancellation); err != nil {
			return nil, nil, fmt.Errorf("encoding cancellation request: %w", err)
		}
	}
	if o.Return != nil {
		if returnReq, err = json.Marshal(o.Return); err != nil {
			return nil, nil, fmt.Errorf("encoding return request: %w", err)
		}
	}
	return cancellation, returnReq, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		items         []byte
		address       []byte
		couponSnap    []byte
		cancellation  []byte
		returnReq     []byte
		paymentStatus string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &items, &address, &o.PaymentMethod,
		&paymentStatus, &status, &o.Subtotal, &o.ShippingCost, &o.Discount,
		&o.Total, &couponSnap, &o.PaymentRef, &o.TrackingNumber, &o.Carrier,
		&o.Notes, &cancellation, &returnReq,
		&o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("decoding items for order %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return o, fmt.Errorf("decoding address for order %q: %w", o.ID, err)
	}
	if len(couponSnap) > 0 {
		if err := json.Unmarshal(couponSnap, &o.Coupon); err != nil {
			return o, fmt.Errorf("decoding coupon snapshot for order %q: %w", o.ID, err)
		}
	}
	if len(cancellation) > 0 {
		if err := json.Unmarshal(cancellation, &o.Cancellation); err != nil {
			return o, fmt.Errorf("decoding cancellation for order %q: %w", o.ID, err)
		}
	}
	if len(returnReq) > 0 {
		if err := json.Unmarshal(returnReq, &o.Return); err != nil {
			return o, fmt.Errorf("decoding return request for order %q: %w", o.ID, err)
		}
	}
	return o, nil
}
