package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitalblend/commerce-api/internal/domain/coupon"
	"github.com/vitalblend/commerce-api/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID     map[string]*product.Product
	getErr   error
	restored []StockRestore
	restErr  error
}

func (m *mockProductRepo) List(context.Context, product.Filter) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) Create(context.Context, *product.Product) error { return nil }
func (m *mockProductRepo) Update(context.Context, *product.Product) error { return nil }
func (m *mockProductRepo) Deactivate(context.Context, string) error       { return nil }

func (m *mockProductRepo) DecrementStock(context.Context, string, string, int) error { return nil }

func (m *mockProductRepo) RestoreStock(_ context.Context, productID, sizeLabel string, quantity int) error {
	if m.restErr != nil {
		return m.restErr
	}
	m.restored = append(m.restored, StockRestore{ProductID: productID, SizeLabel: sizeLabel, Quantity: quantity})
	return nil
}

type mockCouponRepo struct {
	rules map[string]*coupon.Rule
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	r, ok := m.rules[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockCouponRepo) List(context.Context, bool) ([]coupon.Rule, error) { return nil, nil }
func (m *mockCouponRepo) Create(context.Context, *coupon.Rule) error        { return nil }
func (m *mockCouponRepo) Update(context.Context, *coupon.Rule) error        { return nil }
func (m *mockCouponRepo) Deactivate(context.Context, string) error          { return nil }
func (m *mockCouponRepo) IncrementUsage(context.Context, string) error      { return nil }

type mockOrderRepo struct {
	byID      map[string]*Order
	created   *Order
	createErr error
	updated   *Order
	updateErr error
	userCount int

	// raceOnce makes the first Update report a concurrent write and swaps in
	// raceWinner as the stored order, emulating a writer that got there first.
	raceOnce   bool
	raceWinner *Order
	updates    int
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	o.Number = "VB202608290001"
	m.created = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) List(context.Context, Filter) ([]Order, error) { return nil, nil }

func (m *mockOrderRepo) Update(_ context.Context, o *Order, _ time.Time) error {
	m.updates++
	if m.raceOnce {
		m.raceOnce = false
		m.byID[o.ID] = m.raceWinner
		return ErrConflict
	}
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = o
	return nil
}

func (m *mockOrderRepo) CountByUser(context.Context, string) (int, error) {
	return m.userCount, nil
}

type mockSettings struct{}

func (mockSettings) ShippingConfig(context.Context) (ShippingConfig, error) {
	return ShippingConfig{
		FlatFee:               decimal.NewFromInt(49),
		FreeShippingThreshold: decimal.NewFromInt(999),
	}, nil
}

type mockNotifier struct {
	sent []Notification
	err  error
}

func (m *mockNotifier) Notify(_ context.Context, n Notification) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

// --- Helpers ---

func newTestProduct(id, name, category string, sizes ...product.Size) product.Product {
	return product.Product{
		ID:       id,
		Name:     name,
		Category: category,
		Image:    "/products/" + id + ".jpg",
		Sizes:    sizes,
		Active:   true,
		InStock:  true,
	}
}

func size(label string, price int64, stock int) product.Size {
	return product.Size{Label: label, Price: decimal.NewFromInt(price), Stock: stock}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

type serviceEnv struct {
	svc      *Service
	products *mockProductRepo
	coupons  *mockCouponRepo
	orders   *mockOrderRepo
	notifier *mockNotifier
}

func newServiceEnv(products *mockProductRepo) *serviceEnv {
	env := &serviceEnv{
		products: products,
		coupons:  &mockCouponRepo{rules: map[string]*coupon.Rule{}},
		orders:   &mockOrderRepo{byID: map[string]*Order{}},
		notifier: &mockNotifier{},
	}
	env.svc = NewService(env.products, env.coupons, env.orders, mockSettings{}, env.notifier, zap.NewNop())
	env.svc.now = func() time.Time { return lifecycleNow }
	return env
}

func validCheckout(items ...CheckoutItem) CheckoutRequest {
	return CheckoutRequest{
		UserID:        "u1",
		Items:         items,
		Address:       Address{FullName: "Test User", Line1: "1 Main St", City: "Metropolis", State: "ST", PostalCode: "12345", Country: "SE", Phone: "555"},
		PaymentMethod: "card",
	}
}

// --- Tests ---

func TestCheckout_EmptyItems(t *testing.T) {
	env := newServiceEnv(newProductRepo())

	_, err := env.svc.Checkout(context.Background(), validCheckout())
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCheckout_InvalidQuantity(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))))

	_, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 0},
	))

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestCheckout_ProductNotFound(t *testing.T) {
	env := newServiceEnv(newProductRepo())

	_, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "missing", SizeLabel: "1kg", Quantity: 1},
	))
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestCheckout_InactiveProduct(t *testing.T) {
	p := newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))
	p.Active = false
	env := newServiceEnv(newProductRepo(p))

	_, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 1},
	))
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestCheckout_SizeNotFound(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))))

	_, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "5kg", Quantity: 1},
	))
	require.ErrorIs(t, err, product.ErrSizeNotFound)
}

func TestCheckout_OutOfStock(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 2))))

	_, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 3},
	))

	var oosErr *OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, "p1", oosErr.ProductID)
	assert.Equal(t, "1kg", oosErr.SizeLabel)
}

func TestCheckout_NoCoupon(t *testing.T) {
	env := newServiceEnv(newProductRepo(
		newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10)),
		newTestProduct("p2", "Greens", "greens", size("30 servings", 449, 10)),
	))

	o, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 1},
		CheckoutItem{ProductID: "p2", SizeLabel: "30 servings", Quantity: 1},
	))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, "VB202608290001", o.Number)
	assert.True(t, decimal.NewFromInt(1048).Equal(o.Subtotal), "got %s", o.Subtotal)
	// Over the free shipping threshold.
	assert.True(t, o.ShippingCost.IsZero())
	assert.True(t, decimal.NewFromInt(1048).Equal(o.Total))
	assert.Nil(t, o.Coupon)

	require.NotNil(t, env.orders.created)
	require.Len(t, env.notifier.sent, 1)
	assert.Equal(t, TemplateOrderConfirmation, env.notifier.sent[0].Template)
	assert.Equal(t, o.Number, env.notifier.sent[0].Number)
}

func TestCheckout_SnapshotsPrices(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))))

	o, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 2},
	))
	require.NoError(t, err)

	require.Len(t, o.Items, 1)
	assert.Equal(t, "Whey", o.Items[0].Name)
	assert.Equal(t, "protein", o.Items[0].Category)
	assert.True(t, decimal.NewFromInt(599).Equal(o.Items[0].Price))
	assert.Equal(t, 2, o.Items[0].Quantity)
}

func TestCheckout_WithCoupon(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("2kg", 1049, 10))))
	env.coupons.rules["SAVE10"] = &coupon.Rule{
		Code:           "SAVE10",
		DiscountType:   coupon.DiscountPercentage,
		Discount:       decimal.NewFromInt(10),
		MinOrderAmount: decimal.NewFromInt(500),
		MaxDiscount:    decimal.NewFromInt(50),
		UsageLimit:     coupon.Unlimited,
		ValidFrom:      lifecycleNow.AddDate(0, -1, 0),
		ValidUntil:     lifecycleNow.AddDate(0, 1, 0),
		Active:         true,
	}

	req := validCheckout(CheckoutItem{ProductID: "p1", SizeLabel: "2kg", Quantity: 1})
	req.CouponCode = "SAVE10"

	o, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, o.Coupon)
	assert.Equal(t, "SAVE10", o.Coupon.Code)
	// 10% of 1049 is 104.9, capped at 50.
	assert.True(t, decimal.NewFromInt(50).Equal(o.Discount), "got %s", o.Discount)
	assert.True(t, decimal.NewFromInt(999).Equal(o.Total))
}

func TestCheckout_CouponBelowMinOrder(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Creatine", "performance", size("250g", 199, 10))))
	env.coupons.rules["SAVE10"] = &coupon.Rule{
		Code:           "SAVE10",
		DiscountType:   coupon.DiscountPercentage,
		Discount:       decimal.NewFromInt(10),
		MinOrderAmount: decimal.NewFromInt(500),
		MaxDiscount:    decimal.NewFromInt(coupon.Unlimited),
		UsageLimit:     coupon.Unlimited,
		ValidFrom:      lifecycleNow.AddDate(0, -1, 0),
		ValidUntil:     lifecycleNow.AddDate(0, 1, 0),
		Active:         true,
	}

	req := validCheckout(CheckoutItem{ProductID: "p1", SizeLabel: "250g", Quantity: 1})
	req.CouponCode = "SAVE10"

	_, err := env.svc.Checkout(context.Background(), req)
	require.ErrorIs(t, err, coupon.ErrNotApplicable)
	assert.Nil(t, env.orders.created)
}

func TestCheckout_FirstTimeCoupon(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))))
	env.coupons.rules["WELCOME10"] = &coupon.Rule{
		Code:          "WELCOME10",
		DiscountType:  coupon.DiscountPercentage,
		Discount:      decimal.NewFromInt(10),
		MaxDiscount:   decimal.NewFromInt(coupon.Unlimited),
		UsageLimit:    coupon.Unlimited,
		FirstTimeOnly: true,
		ValidFrom:     lifecycleNow.AddDate(0, -1, 0),
		ValidUntil:    lifecycleNow.AddDate(0, 1, 0),
		Active:        true,
	}

	req := validCheckout(CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 1})
	req.CouponCode = "WELCOME10"

	// First order: applies.
	o, err := env.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, o.Coupon)

	// Returning customer: rejected.
	env.orders.userCount = 3
	_, err = env.svc.Checkout(context.Background(), req)
	require.ErrorIs(t, err, coupon.ErrNotApplicable)
}

func TestCheckout_UnknownCoupon(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))))

	req := validCheckout(CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 1})
	req.CouponCode = "NOPE"

	_, err := env.svc.Checkout(context.Background(), req)
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestCheckout_CreateFailurePropagates(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))))
	env.orders.createErr = errors.New("db down")

	_, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 1},
	))
	require.Error(t, err)
	assert.Empty(t, env.notifier.sent)
}

func TestCheckout_NotifierFailureDoesNotFailOrder(t *testing.T) {
	env := newServiceEnv(newProductRepo(newTestProduct("p1", "Whey", "protein", size("1kg", 599, 10))))
	env.notifier.err = errors.New("broker down")

	o, err := env.svc.Checkout(context.Background(), validCheckout(
		CheckoutItem{ProductID: "p1", SizeLabel: "1kg", Quantity: 1},
	))
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestGet_Ownership(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	env.orders.byID["o1"] = testOrder(StatusPending)

	o, err := env.svc.Get(context.Background(), "o1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	// Another user's lookup reads as not found.
	_, err = env.svc.Get(context.Background(), "o1", "u2")
	require.ErrorIs(t, err, ErrNotFound)

	// Admin path passes an empty user.
	_, err = env.svc.Get(context.Background(), "o1", "")
	require.NoError(t, err)
}

func TestRequestCancellation_OwnershipEnforced(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	env.orders.byID["o1"] = testOrder(StatusPending)

	_, err := env.svc.RequestCancellation(context.Background(), "o1", "u2", "reason", "")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, env.orders.updated)
}

func TestProcessCancellation_RestoresStock(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	o := testOrder(StatusConfirmed)
	_, err := RequestCancellation(o, "changed my mind", "", lifecycleNow)
	require.NoError(t, err)
	env.orders.byID["o1"] = o

	got, err := env.svc.ProcessCancellation(context.Background(), "o1", true, "admin-1", "")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, env.orders.updated)
	require.Len(t, env.products.restored, 2)
	assert.Equal(t, StockRestore{ProductID: "p1", SizeLabel: "1kg", Quantity: 2}, env.products.restored[0])
	require.Len(t, env.notifier.sent, 1)
	assert.Equal(t, TemplateOrderCancelled, env.notifier.sent[0].Template)
}

func TestProcessCancellation_RestoreFailureStillSucceeds(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	env.products.restErr = errors.New("db down")
	o := testOrder(StatusConfirmed)
	_, err := RequestCancellation(o, "r", "", lifecycleNow)
	require.NoError(t, err)
	env.orders.byID["o1"] = o

	// The decision is already durable; a failed restore is logged, not
	// surfaced.
	got, err := env.svc.ProcessCancellation(context.Background(), "o1", true, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestProcessCancellation_ConcurrentDecisionRestoresOnce(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	o := testOrder(StatusConfirmed)
	_, err := RequestCancellation(o, "changed my mind", "", lifecycleNow)
	require.NoError(t, err)
	env.orders.byID["o1"] = o

	winner := testOrder(StatusConfirmed)
	_, err = RequestCancellation(winner, "changed my mind", "", lifecycleNow)
	require.NoError(t, err)
	_, err = ProcessCancellation(winner, true, "admin-2", "", lifecycleNow)
	require.NoError(t, err)

	env.orders.raceOnce = true
	env.orders.raceWinner = winner

	// Another admin's approval lands between our load and our write. The
	// reload sees the request already resolved, so the second decision is
	// refused and stock is credited back exactly once.
	_, err = env.svc.ProcessCancellation(context.Background(), "o1", true, "admin-1", "")
	require.ErrorIs(t, err, ErrNoPendingRequest)
	assert.Empty(t, env.products.restored)
	assert.Empty(t, env.notifier.sent)
	assert.Equal(t, 1, env.orders.updates)
}

func TestUpdateStatus_Shipped(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	env.orders.byID["o1"] = testOrder(StatusProcessing)

	got, err := env.svc.UpdateStatus(context.Background(), "o1", StatusShipped, "TRK1", "dhl", "")
	require.NoError(t, err)

	assert.Equal(t, StatusShipped, got.Status)
	assert.Equal(t, "TRK1", got.TrackingNumber)
	assert.Equal(t, "dhl", got.Carrier)
	require.NotNil(t, got.ShippedAt)
	require.Len(t, env.notifier.sent, 1)
	assert.Equal(t, TemplateOrderShipped, env.notifier.sent[0].Template)
}

func TestUpdateStatus_Invalid(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	env.orders.byID["o1"] = testOrder(StatusPending)

	_, err := env.svc.UpdateStatus(context.Background(), "o1", "bogus", "", "", "")
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Nil(t, env.orders.updated)
}

func TestUpdatePaymentStatus(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	env.orders.byID["o1"] = testOrder(StatusPending)

	got, err := env.svc.UpdatePaymentStatus(context.Background(), "o1", PaymentPaid, "pay_123")
	require.NoError(t, err)

	assert.Equal(t, PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "pay_123", got.PaymentRef)
	require.NotNil(t, env.orders.updated)
}

func TestPreviewCoupon(t *testing.T) {
	env := newServiceEnv(newProductRepo())
	env.coupons.rules["TEN"] = &coupon.Rule{
		Code:         "TEN",
		DiscountType: coupon.DiscountPercentage,
		Discount:     decimal.NewFromInt(10),
		MaxDiscount:  decimal.NewFromInt(coupon.Unlimited),
		UsageLimit:   coupon.Unlimited,
		ValidFrom:    lifecycleNow.AddDate(0, -1, 0),
		ValidUntil:   lifecycleNow.AddDate(0, 1, 0),
		Active:       true,
	}

	snap, err := env.svc.PreviewCoupon(context.Background(), "u1", "TEN", []coupon.Item{
		{ProductID: "p1", Category: "protein", Price: decimal.NewFromInt(500), Quantity: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "TEN", snap.Code)
	assert.True(t, decimal.NewFromInt(50).Equal(snap.Amount), "got %s", snap.Amount)
	// Nothing was created or redeemed.
	assert.Nil(t, env.orders.created)
}
