package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitalblend/commerce-api/internal/domain/auth"
	"github.com/vitalblend/commerce-api/internal/domain/cart"
	"github.com/vitalblend/commerce-api/internal/domain/coupon"
	"github.com/vitalblend/commerce-api/internal/domain/order"
	"github.com/vitalblend/commerce-api/internal/domain/product"
	"github.com/vitalblend/commerce-api/internal/domain/review"
)

// --- Mock implementations ---

type stubProducts struct {
	byID map[string]*product.Product
}

func (s *stubProducts) List(_ context.Context, f product.Filter) ([]product.Product, error) {
	var out []product.Product
	for _, p := range s.byID {
		if !f.IncludeInactive && !p.Active {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.Featured && !p.Featured {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *stubProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := s.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubProducts) Create(_ context.Context, p *product.Product) error {
	s.byID[p.ID] = p
	return nil
}

func (s *stubProducts) Update(_ context.Context, p *product.Product) error {
	s.byID[p.ID] = p
	return nil
}

func (s *stubProducts) Deactivate(_ context.Context, id string) error {
	p, ok := s.byID[id]
	if !ok {
		return product.ErrNotFound
	}
	p.Active = false
	return nil
}

func (s *stubProducts) DecrementStock(context.Context, string, string, int) error { return nil }
func (s *stubProducts) RestoreStock(context.Context, string, string, int) error   { return nil }

type stubCoupons struct {
	rules map[string]*coupon.Rule
}

func (s *stubCoupons) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	r, ok := s.rules[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *stubCoupons) List(context.Context, bool) ([]coupon.Rule, error) {
	var out []coupon.Rule
	for _, r := range s.rules {
		out = append(out, *r)
	}
	return out, nil
}

func (s *stubCoupons) Create(_ context.Context, r *coupon.Rule) error {
	s.rules[r.Code] = r
	return nil
}

func (s *stubCoupons) Update(_ context.Context, r *coupon.Rule) error {
	s.rules[r.Code] = r
	return nil
}

func (s *stubCoupons) Deactivate(_ context.Context, code string) error {
	r, ok := s.rules[code]
	if !ok {
		return coupon.ErrNotFound
	}
	r.Active = false
	return nil
}

func (s *stubCoupons) IncrementUsage(context.Context, string) error { return nil }

type stubOrders struct {
	byID map[string]*order.Order
	seq  int
}

func (s *stubOrders) Create(_ context.Context, o *order.Order) error {
	s.seq++
	o.Number = order.FormatOrderNumber(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), s.seq)
	s.byID[o.ID] = o
	return nil
}

func (s *stubOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := s.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	var out []order.Order
	for _, o := range s.byID {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (s *stubOrders) Update(_ context.Context, o *order.Order, _ time.Time) error {
	s.byID[o.ID] = o
	return nil
}

func (s *stubOrders) CountByUser(_ context.Context, userID string) (int, error) {
	n := 0
	for _, o := range s.byID {
		if o.UserID == userID {
			n++
		}
	}
	return n, nil
}

type memCarts struct {
	byUser map[string]*cart.Cart
}

func (s *memCarts) Get(_ context.Context, userID string) (*cart.Cart, error) {
	if c, ok := s.byUser[userID]; ok {
		return c, nil
	}
	return &cart.Cart{UserID: userID}, nil
}

func (s *memCarts) Save(_ context.Context, c *cart.Cart) error {
	s.byUser[c.UserID] = c
	return nil
}

func (s *memCarts) Clear(_ context.Context, userID string) error {
	delete(s.byUser, userID)
	return nil
}

type stubReviews struct {
	byProduct map[string][]review.Review
}

func (s *stubReviews) Create(_ context.Context, rev *review.Review) error {
	for _, existing := range s.byProduct[rev.ProductID] {
		if existing.UserID == rev.UserID {
			return review.ErrAlreadyReviewed
		}
	}
	s.byProduct[rev.ProductID] = append(s.byProduct[rev.ProductID], *rev)
	return nil
}

func (s *stubReviews) ListByProduct(_ context.Context, productID string) ([]review.Review, error) {
	return s.byProduct[productID], nil
}

type stubSettings struct {
	cfg order.ShippingConfig
}

func (s *stubSettings) ShippingConfig(context.Context) (order.ShippingConfig, error) {
	return s.cfg, nil
}

func (s *stubSettings) UpdateShippingConfig(_ context.Context, cfg order.ShippingConfig) error {
	s.cfg = cfg
	return nil
}

// --- Test environment ---

type apiEnv struct {
	mux      *http.ServeMux
	products *stubProducts
	coupons  *stubCoupons
	orders   *stubOrders
	carts    *memCarts
}

// authAs injects a fixed identity, standing in for the API key middleware.
func authAs(userID string, scopes ...string) func(http.Handler) http.Handler {
	info := &auth.APIKeyInfo{ID: "key-" + userID, UserID: userID, Scopes: scopes}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), identityKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	env := &apiEnv{
		products: &stubProducts{byID: map[string]*product.Product{}},
		coupons:  &stubCoupons{rules: map[string]*coupon.Rule{}},
		orders:   &stubOrders{byID: map[string]*order.Order{}},
		carts:    &memCarts{byUser: map[string]*cart.Cart{}},
	}
	settings := &stubSettings{cfg: order.ShippingConfig{
		FlatFee:               decimal.NewFromInt(49),
		FreeShippingThreshold: decimal.NewFromInt(999),
	}}

	svc := order.NewService(env.products, env.coupons, env.orders, settings, nil, zap.NewNop())
	h := NewHandler(
		Config{ImageBaseURL: "https://cdn.test"},
		env.products, svc, env.coupons, env.carts,
		&stubReviews{byProduct: map[string][]review.Review{}},
		settings,
	)

	env.mux = http.NewServeMux()
	h.Routes(env.mux, authAs("u1", auth.ScopeCustomer), authAs("admin-1", auth.ScopeCustomer, auth.ScopeAdmin))
	return env
}

func (env *apiEnv) addProduct(id, name, category string, price int64, stock int) {
	env.products.byID[id] = &product.Product{
		ID:       id,
		Name:     name,
		Category: category,
		Image:    "/products/" + id + ".jpg",
		Sizes:    []product.Size{{Label: "1kg", Price: decimal.NewFromInt(price), Stock: stock}},
		Active:   true,
		InStock:  stock > 0,
	}
}

func (env *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// --- Tests ---

func TestListProducts(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)
	env.addProduct("p2", "Greens", "greens", 449, 0)

	w := env.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeBody[[]productResponse](t, w)
	require.Len(t, got, 2)
}

func TestListProducts_CategoryFilter(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)
	env.addProduct("p2", "Greens", "greens", 449, 5)

	w := env.do(t, http.MethodGet, "/api/products?category=protein", nil)
	got := decodeBody[[]productResponse](t, w)

	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestGetProduct(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodGet, "/api/products/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeBody[productResponse](t, w)
	assert.Equal(t, "Whey", got.Name)
	assert.Equal(t, "https://cdn.test/products/p1.jpg", got.Image)
	require.Len(t, got.Sizes, 1)
	assert.Equal(t, 599.0, got.Sizes[0].Price)
	assert.True(t, got.Sizes[0].InStock)
}

func TestGetProduct_NotFound(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodGet, "/api/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProduct_InactiveHidden(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)
	env.products.byID["p1"].Active = false

	w := env.do(t, http.MethodGet, "/api/products/p1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPut, "/api/cart/items", map[string]any{
		"productId": "p1", "size": "1kg", "quantity": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeBody[cartResponse](t, w)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 1198.0, got.Subtotal)

	w = env.do(t, http.MethodDelete, "/api/cart/items/p1/1kg", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got = decodeBody[cartResponse](t, w)
	assert.Empty(t, got.Items)
}

func TestUpsertCartItem_UnknownProduct(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPut, "/api/cart/items", map[string]any{
		"productId": "missing", "size": "1kg", "quantity": 1,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpsertCartItem_BadQuantity(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPut, "/api/cart/items", map[string]any{
		"productId": "p1", "size": "1kg", "quantity": 0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func checkoutBody(items ...map[string]any) map[string]any {
	return map[string]any{
		"items": items,
		"address": map[string]any{
			"fullName": "Test User", "line1": "1 Main St", "city": "Metropolis",
			"state": "ST", "postalCode": "12345", "country": "SE", "phone": "555",
		},
		"paymentMethod": "card",
	}
}

func TestCheckout(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPost, "/api/orders", checkoutBody(
		map[string]any{"productId": "p1", "size": "1kg", "quantity": 1},
	))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got := decodeBody[orderResponse](t, w)
	assert.Equal(t, "VB202608290001", got.Number)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, 599.0, got.Subtotal)
	assert.Equal(t, 49.0, got.ShippingCost)
	assert.Equal(t, 648.0, got.Total)
	assert.Equal(t, "u1", got.UserID)
}

func TestCheckout_FromCart(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPut, "/api/cart/items", map[string]any{
		"productId": "p1", "size": "1kg", "quantity": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := checkoutBody()
	delete(body, "items")
	w = env.do(t, http.MethodPost, "/api/orders", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got := decodeBody[orderResponse](t, w)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)

	// The cart is consumed.
	w = env.do(t, http.MethodGet, "/api/cart", nil)
	assert.Empty(t, decodeBody[cartResponse](t, w).Items)
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newAPIEnv(t)

	body := checkoutBody()
	delete(body, "items")
	w := env.do(t, http.MethodPost, "/api/orders", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCheckout_OutOfStock(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 1)

	w := env.do(t, http.MethodPost, "/api/orders", checkoutBody(
		map[string]any{"productId": "p1", "size": "1kg", "quantity": 5},
	))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCheckout_MissingAddress(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items":         []map[string]any{{"productId": "p1", "size": "1kg", "quantity": 1}},
		"paymentMethod": "card",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrder_OwnershipHidesOthers(t *testing.T) {
	env := newAPIEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "someone-else", Status: order.StatusPending}

	w := env.do(t, http.MethodGet, "/api/orders/o1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestCancellation_ShippedRejected(t *testing.T) {
	env := newAPIEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "u1", Status: order.StatusShipped}

	w := env.do(t, http.MethodPost, "/api/orders/o1/cancellation", map[string]any{"reason": "late"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRequestCancellation_Pending(t *testing.T) {
	env := newAPIEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending}

	w := env.do(t, http.MethodPost, "/api/orders/o1/cancellation", map[string]any{"reason": "late"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decodeBody[orderResponse](t, w)
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, "pending", got.Cancellation.Status)
}

func TestValidateCoupon(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)
	now := time.Now().UTC()
	env.coupons.rules["TEN"] = &coupon.Rule{
		Code:         "TEN",
		DiscountType: coupon.DiscountPercentage,
		Discount:     decimal.NewFromInt(10),
		MaxDiscount:  decimal.NewFromInt(coupon.Unlimited),
		UsageLimit:   coupon.Unlimited,
		ValidFrom:    now.AddDate(0, -1, 0),
		ValidUntil:   now.AddDate(0, 1, 0),
		Active:       true,
	}

	w := env.do(t, http.MethodPost, "/api/coupons/validate", map[string]any{
		"code":  "TEN",
		"items": []map[string]any{{"productId": "p1", "size": "1kg", "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decodeBody[validateCouponResponse](t, w)
	assert.True(t, got.Valid)
	assert.Equal(t, 59.9, got.Amount)
}

func TestValidateCoupon_Unknown(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPost, "/api/coupons/validate", map[string]any{
		"code":  "NOPE",
		"items": []map[string]any{{"productId": "p1", "size": "1kg", "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeBody[validateCouponResponse](t, w)
	assert.False(t, got.Valid)
	assert.NotEmpty(t, got.Reason)
}

func TestAdminUpdateOrderStatus(t *testing.T) {
	env := newAPIEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "u1", Status: order.StatusProcessing}

	w := env.do(t, http.MethodPatch, "/api/admin/orders/o1/status", map[string]any{
		"status": "shipped", "trackingNumber": "TRK1", "carrier": "dhl",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decodeBody[orderResponse](t, w)
	assert.Equal(t, "shipped", got.Status)
	assert.NotNil(t, got.ShippedAt)
}

func TestAdminProcessCancellation(t *testing.T) {
	env := newAPIEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending}

	w := env.do(t, http.MethodPost, "/api/orders/o1/cancellation", map[string]any{"reason": "late"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/orders/o1/cancellation/decision", map[string]any{
		"approved": true, "notes": "ok",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decodeBody[orderResponse](t, w)
	assert.Equal(t, "cancelled", got.Status)
	assert.Equal(t, "refunded", got.PaymentStatus)

	// Second decision is rejected.
	w = env.do(t, http.MethodPost, "/api/admin/orders/o1/cancellation/decision", map[string]any{
		"approved": false,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAdminShippingSettings(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPut, "/api/admin/settings/shipping", map[string]any{
		"flatFee": 79, "freeShippingThreshold": 1500,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/settings/shipping", nil)
	got := decodeBody[shippingSettingsResponse](t, w)
	assert.Equal(t, 79.0, got.FlatFee)
	assert.Equal(t, 1500.0, got.FreeShippingThreshold)
}

func TestCreateReview(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPost, "/api/products/p1/reviews", map[string]any{
		"rating": 5, "title": "Great", "comment": "Mixes well.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Same user again: conflict.
	w = env.do(t, http.MethodPost, "/api/products/p1/reviews", map[string]any{"rating": 4})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateReview_BadRating(t *testing.T) {
	env := newAPIEnv(t)
	env.addProduct("p1", "Whey", "protein", 599, 10)

	w := env.do(t, http.MethodPost, "/api/products/p1/reviews", map[string]any{"rating": 6})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
