// Package api implements the REST surface on net/http. Handlers decode and
// validate requests, delegate to the domain services and repositories, and
// map domain errors to HTTP status codes; business rules live below.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vitalblend/commerce-api/internal/domain/cart"
	"github.com/vitalblend/commerce-api/internal/domain/coupon"
	"github.com/vitalblend/commerce-api/internal/domain/order"
	"github.com/vitalblend/commerce-api/internal/domain/product"
	"github.com/vitalblend/commerce-api/internal/domain/review"
)

// SettingsStore is the settings surface the API needs: the read side used by
// checkout plus the admin write side.
type SettingsStore interface {
	order.SettingsStore
	UpdateShippingConfig(ctx context.Context, cfg order.ShippingConfig) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product
	// responses. When empty, paths are returned as stored.
	ImageBaseURL string
}

// Handler carries the injected domain dependencies for all routes.
type Handler struct {
	products     product.Repository
	orderService *order.Service
	coupons      coupon.Repository
	carts        cart.Store
	reviews      review.Repository
	settings     SettingsStore
	validate     *validator.Validate
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	orderService *order.Service,
	coupons coupon.Repository,
	carts cart.Store,
	reviews review.Repository,
	settings SettingsStore,
) *Handler {
	return &Handler{
		products:     products,
		orderService: orderService,
		coupons:      coupons,
		carts:        carts,
		reviews:      reviews,
		settings:     settings,
		validate:     validator.New(),
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes registers all API routes on the mux. auth wraps routes that require
// a valid API key; admin additionally requires the admin scope.
func (h *Handler) Routes(mux *http.ServeMux, auth, admin func(http.Handler) http.Handler) {
	// Public catalog.
	mux.Handle("GET /api/products", http.HandlerFunc(h.ListProducts))
	mux.Handle("GET /api/products/{id}", http.HandlerFunc(h.GetProduct))
	mux.Handle("GET /api/products/{id}/reviews", http.HandlerFunc(h.ListReviews))

	// Customer routes.
	mux.Handle("GET /api/cart", auth(http.HandlerFunc(h.GetCart)))
	mux.Handle("PUT /api/cart/items", auth(http.HandlerFunc(h.UpsertCartItem)))
	mux.Handle("DELETE /api/cart/items/{productID}/{size}", auth(http.HandlerFunc(h.RemoveCartItem)))
	mux.Handle("DELETE /api/cart", auth(http.HandlerFunc(h.ClearCart)))

	mux.Handle("POST /api/orders", auth(http.HandlerFunc(h.Checkout)))
	mux.Handle("GET /api/orders", auth(http.HandlerFunc(h.ListMyOrders)))
	mux.Handle("GET /api/orders/{id}", auth(http.HandlerFunc(h.GetOrder)))
	mux.Handle("POST /api/orders/{id}/cancellation", auth(http.HandlerFunc(h.RequestCancellation)))
	mux.Handle("POST /api/orders/{id}/return", auth(http.HandlerFunc(h.RequestReturn)))

	mux.Handle("POST /api/coupons/validate", auth(http.HandlerFunc(h.ValidateCoupon)))
	mux.Handle("POST /api/products/{id}/reviews", auth(http.HandlerFunc(h.CreateReview)))

	// Admin routes.
	mux.Handle("POST /api/admin/products", admin(http.HandlerFunc(h.CreateProduct)))
	mux.Handle("PUT /api/admin/products/{id}", admin(http.HandlerFunc(h.UpdateProduct)))
	mux.Handle("DELETE /api/admin/products/{id}", admin(http.HandlerFunc(h.DeactivateProduct)))

	mux.Handle("GET /api/admin/orders", admin(http.HandlerFunc(h.AdminListOrders)))
	mux.Handle("PATCH /api/admin/orders/{id}/status", admin(http.HandlerFunc(h.UpdateOrderStatus)))
	mux.Handle("PATCH /api/admin/orders/{id}/payment", admin(http.HandlerFunc(h.UpdatePaymentStatus)))
	mux.Handle("POST /api/admin/orders/{id}/cancellation/decision", admin(http.HandlerFunc(h.ProcessCancellation)))
	mux.Handle("POST /api/admin/orders/{id}/return/decision", admin(http.HandlerFunc(h.ProcessReturn)))

	mux.Handle("GET /api/admin/coupons", admin(http.HandlerFunc(h.ListCoupons)))
	mux.Handle("POST /api/admin/coupons", admin(http.HandlerFunc(h.CreateCoupon)))
	mux.Handle("PUT /api/admin/coupons/{code}", admin(http.HandlerFunc(h.UpdateCoupon)))
	mux.Handle("DELETE /api/admin/coupons/{code}", admin(http.HandlerFunc(h.DeactivateCoupon)))

	mux.Handle("GET /api/admin/settings/shipping", admin(http.HandlerFunc(h.GetShippingSettings)))
	mux.Handle("PUT /api/admin/settings/shipping", admin(http.HandlerFunc(h.UpdateShippingSettings)))
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "invalid JSON body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// respondDomainError maps domain errors to HTTP responses. Unknown errors are
// logged and become opaque 500s.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
		return

	case errors.Is(err, order.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
		return

	case errors.Is(err, product.ErrSizeNotFound),
		errors.Is(err, product.ErrInsufficientStock),
		errors.Is(err, coupon.ErrNotApplicable),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrCancellationRejected),
		errors.Is(err, order.ErrReturnRejected),
		errors.Is(err, order.ErrRequestAlreadyFiled),
		errors.Is(err, order.ErrNoPendingRequest),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, review.ErrInvalidRating),
		errors.Is(err, review.ErrAlreadyReviewed),
		errors.Is(err, cart.ErrEmpty):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var oosErr *order.OutOfStockError
	if errors.As(err, &oosErr) {
		respondError(w, http.StatusUnprocessableEntity, oosErr.Error())
		return
	}
	var iqErr *order.InvalidQuantityError
	if errors.As(err, &iqErr) {
		respondError(w, http.StatusUnprocessableEntity, iqErr.Error())
		return
	}

	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}
