package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitalblend/commerce-api/internal/domain/coupon"
	"github.com/vitalblend/commerce-api/internal/domain/product"
	"github.com/vitalblend/commerce-api/internal/metrics"
)

// Notifier delivers templated notifications. Implementations are
// fire-and-forget from the service's point of view: a delivery error is
// logged and never fails the triggering transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SettingsStore loads the shipping configuration in effect. It is read per
// checkout from persisted settings, never from process-wide mutable state.
type SettingsStore interface {
	ShippingConfig(ctx context.Context) (ShippingConfig, error)
}

// CheckoutRequest is the input for placing an order. Items are a plain list
// of (product, size, quantity) intents; the service snapshots prices from the
// live catalog at this moment.
type CheckoutRequest struct {
	UserID        string
	Items         []CheckoutItem
	Address       Address
	PaymentMethod string
	CouponCode    string
	Notes         string
}

// CheckoutItem is one requested line of a checkout.
type CheckoutItem struct {
	ProductID string
	SizeLabel string
	Quantity  int
}

// Service implements the order lifecycle on top of the catalog, coupon, and
// order repositories. Transitions themselves are the pure functions in
// lifecycle.go; the service loads, transitions, persists, then executes the
// returned effects.
type Service struct {
	products product.Repository
	coupons  coupon.Repository
	orders   Repository
	settings SettingsStore
	notifier Notifier
	lg       *zap.Logger
	now      func() time.Time
}

// NewService creates an order Service with the required collaborators.
func NewService(
	products product.Repository,
	coupons coupon.Repository,
	orders Repository,
	settings SettingsStore,
	notifier Notifier,
	lg *zap.Logger,
) *Service {
	return &Service{
		products: products,
		coupons:  coupons,
		orders:   orders,
		settings: settings,
		notifier: notifier,
		lg:       lg,
		now:      time.Now,
	}
}

// Checkout validates the request, snapshots line items from the catalog,
// evaluates the optional coupon, computes totals, and persists the order.
// Stock decrements, order-number allocation, the insert, and coupon
// redemption commit as one transaction inside the repository, so a lost
// stock or coupon race surfaces here as a domain error instead of an
// oversold order.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: it.ProductID}
		}
		ids[i] = it.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	items := make([]LineItem, len(req.Items))
	couponItems := make([]coupon.Item, len(req.Items))
	for i, it := range req.Items {
		p, ok := byID[it.ProductID]
		if !ok || !p.Active {
			return nil, product.ErrNotFound
		}
		size := p.FindSize(it.SizeLabel)
		if size == nil {
			return nil, product.ErrSizeNotFound
		}
		// Advisory availability check; the transactional conditional
		// decrement in Create is the authoritative one.
		if size.Stock < it.Quantity {
			return nil, &OutOfStockError{ProductID: p.ID, SizeLabel: it.SizeLabel}
		}

		items[i] = LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			SizeLabel: size.Label,
			Price:     size.Price,
			Quantity:  it.Quantity,
			Image:     p.Image,
			Category:  p.Category,
		}
		couponItems[i] = coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Price:     size.Price,
			Quantity:  it.Quantity,
		}
	}

	shippingCfg, err := s.settings.ShippingConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load shipping config")
	}

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	var applied *coupon.Snapshot
	if req.CouponCode != "" {
		applied, err = s.evaluateCoupon(ctx, req, subtotal, couponItems)
		if err != nil {
			return nil, err
		}
	}

	totals := CalculateTotals(items, shippingCfg, applied)
	now := s.now()

	o := &Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Items:         items,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
		Subtotal:      totals.Subtotal,
		ShippingCost:  totals.ShippingCost,
		Discount:      totals.Discount,
		Total:         totals.Total,
		Coupon:        applied,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	metrics.OrdersCreatedTotal.Inc()
	if applied != nil {
		metrics.CouponsRedeemedTotal.Inc()
	}

	s.send(ctx, Notification{
		Template: TemplateOrderConfirmation,
		OrderID:  o.ID,
		Number:   o.Number,
		UserID:   o.UserID,
		Data:     map[string]string{"total": o.Total.StringFixed(2)},
	})
	return o, nil
}

// evaluateCoupon resolves and prices the coupon for a checkout. Pure pricing
// only: the usage counter is incremented later, inside the order transaction.
func (s *Service) evaluateCoupon(ctx context.Context, req CheckoutRequest, subtotal decimal.Decimal, items []coupon.Item) (*coupon.Snapshot, error) {
	rule, err := s.coupons.FindByCode(ctx, req.CouponCode)
	if err != nil {
		return nil, err
	}

	placed, err := s.orders.CountByUser(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "count user orders")
	}

	applyCtx := coupon.ApplyContext{
		OrderAmount:       subtotal,
		UserID:            req.UserID,
		FirstTimeCustomer: placed == 0,
	}
	if !coupon.CanApply(rule, applyCtx, s.now()) {
		return nil, coupon.ErrNotApplicable
	}

	amount := coupon.ComputeDiscount(rule, subtotal, items)
	return &coupon.Snapshot{
		Code:         rule.Code,
		DiscountType: rule.DiscountType,
		Discount:     rule.Discount,
		Amount:       amount,
	}, nil
}

// PreviewCoupon prices a coupon against an item list without creating
// anything. Used by the coupon validation endpoint.
func (s *Service) PreviewCoupon(ctx context.Context, userID, code string, items []coupon.Item) (*coupon.Snapshot, error) {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return s.evaluateCoupon(ctx, CheckoutRequest{UserID: userID, CouponCode: code}, subtotal, items)
}

// Get returns one order. When userID is non-empty the order must belong to
// that user; otherwise (admin path) any order is returned.
func (s *Service) Get(ctx context.Context, id, userID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	return s.orders.List(ctx, f)
}

// UpdateStatus applies an admin status overwrite and persists it, then emits
// the resulting notifications.
func (s *Service) UpdateStatus(ctx context.Context, id string, newStatus Status, trackingNumber, carrier, notes string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	loadedAt := o.UpdatedAt

	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	if carrier != "" {
		o.Carrier = carrier
	}

	fx, err := ApplyStatus(o, newStatus, notes, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, o, loadedAt); err != nil {
		return nil, errors.Wrap(err, "update order")
	}
	if newStatus == StatusCancelled {
		metrics.OrdersCancelledTotal.Inc()
	}

	s.execute(ctx, fx)
	return o, nil
}

// UpdatePaymentStatus records a payment outcome reported by the payment
// collaborator.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus, paymentRef string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	loadedAt := o.UpdatedAt

	o.PaymentStatus = status
	if paymentRef != "" {
		o.PaymentRef = paymentRef
	}
	o.UpdatedAt = s.now()

	if err := s.orders.Update(ctx, o, loadedAt); err != nil {
		return nil, errors.Wrap(err, "update order")
	}
	return o, nil
}

// RequestCancellation files a customer cancellation request.
func (s *Service) RequestCancellation(ctx context.Context, id, userID, reason, description string) (*Order, error) {
	return s.transition(ctx, id, userID, func(o *Order) (Effects, error) {
		return RequestCancellation(o, reason, description, s.now())
	})
}

// RequestReturn files a customer return request.
func (s *Service) RequestReturn(ctx context.Context, id, userID, reason, description string) (*Order, error) {
	return s.transition(ctx, id, userID, func(o *Order) (Effects, error) {
		return RequestReturn(o, reason, description, s.now())
	})
}

// ProcessCancellation resolves a pending cancellation request (admin).
func (s *Service) ProcessCancellation(ctx context.Context, id string, approved bool, processedBy, notes string) (*Order, error) {
	o, err := s.transition(ctx, id, "", func(o *Order) (Effects, error) {
		return ProcessCancellation(o, approved, processedBy, notes, s.now())
	})
	if err == nil && approved {
		metrics.OrdersCancelledTotal.Inc()
	}
	return o, err
}

// ProcessReturn resolves a pending return request (admin).
func (s *Service) ProcessReturn(ctx context.Context, id string, approved bool, processedBy string, refundAmount decimal.Decimal, refundMethod, trackingNumber, notes string) (*Order, error) {
	return s.transition(ctx, id, "", func(o *Order) (Effects, error) {
		return ProcessReturn(o, approved, processedBy, refundAmount, refundMethod, trackingNumber, notes, s.now())
	})
}

// transitionRetries bounds reload attempts after a concurrent write.
const transitionRetries = 3

// transition loads an order, applies a pure transition, persists the result,
// and executes the effects. The transition either fully applies or the order
// is left untouched; effects run only after the update is durable.
//
// Persistence is guarded by the updated_at the order was loaded with. When a
// concurrent writer wins, the order is reloaded and the transition re-applied
// against the fresh state, so single-shot guards such as ProcessCancellation's
// pending check fire exactly once no matter how the race resolves.
func (s *Service) transition(ctx context.Context, id, userID string, fn func(*Order) (Effects, error)) (*Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if userID != "" && o.UserID != userID {
			return nil, ErrNotFound
		}

		loadedAt := o.UpdatedAt
		fx, err := fn(o)
		if err != nil {
			return nil, err
		}
		if err := s.orders.Update(ctx, o, loadedAt); err != nil {
			if errors.Is(err, ErrConflict) && attempt < transitionRetries {
				continue
			}
			return nil, errors.Wrap(err, "update order")
		}

		s.execute(ctx, fx)
		return o, nil
	}
}

// execute applies transition effects: compensating stock restores first, then
// notifications. Failures are logged and do not fail the already-persisted
// transition; a failed restore is retryable by operations.
func (s *Service) execute(ctx context.Context, fx Effects) {
	for _, r := range fx.StockRestores {
		if err := s.products.RestoreStock(ctx, r.ProductID, r.SizeLabel, r.Quantity); err != nil {
			metrics.StockRestoreFailures.Inc()
			s.lg.Error("stock restore failed",
				zap.String("product_id", r.ProductID),
				zap.String("size", r.SizeLabel),
				zap.Int("quantity", r.Quantity),
				zap.Error(err),
			)
		}
	}
	for _, n := range fx.Notifications {
		s.send(ctx, n)
	}
}

func (s *Service) send(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.lg.Warn("notification send failed",
			zap.String("template", n.Template),
			zap.String("order_number", n.Number),
			zap.Error(err),
		)
	}
}
