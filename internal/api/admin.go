package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitalblend/commerce-api/internal/domain/coupon"
	"github.com/vitalblend/commerce-api/internal/domain/order"
	"github.com/vitalblend/commerce-api/internal/domain/product"
)

type sizeRequest struct {
	Label string  `json:"label" validate:"required,max=50"`
	Price float64 `json:"price" validate:"required,gt=0"`
	Stock int     `json:"stock" validate:"min=0"`
	SKU   string  `json:"sku" validate:"max=64"`
}

type productRequest struct {
	Name        string            `json:"name" validate:"required,max=200"`
	Description string            `json:"description" validate:"max=5000"`
	Category    string            `json:"category" validate:"required,max=100"`
	Image       string            `json:"image" validate:"max=500"`
	Images      []string          `json:"images" validate:"dive,max=500"`
	Sizes       []sizeRequest     `json:"sizes" validate:"required,min=1,dive"`
	Ingredients []string          `json:"ingredients" validate:"dive,max=200"`
	Nutrition   map[string]string `json:"nutrition"`
	Featured    bool              `json:"featured"`
}

func (req productRequest) apply(p *product.Product) {
	p.Name = req.Name
	p.Description = req.Description
	p.Category = req.Category
	p.Image = req.Image
	p.Images = req.Images
	p.Ingredients = req.Ingredients
	p.Nutrition = req.Nutrition
	p.Featured = req.Featured

	p.Sizes = make([]product.Size, len(req.Sizes))
	for i, s := range req.Sizes {
		p.Sizes[i] = product.Size{
			Label: s.Label,
			Price: decimal.NewFromFloat(s.Price),
			Stock: s.Stock,
			SKU:   s.SKU,
		}
	}
	p.RecomputeInStock()
}

// CreateProduct adds a catalog product with its sizes.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	p := &product.Product{
		ID:        uuid.New().String(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(p)

	if err := h.products.Create(r.Context(), p); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.domainToProductResponse(*p))
}

// UpdateProduct replaces a product's editable fields and size set. Sizes
// absent from the request are removed; existing orders are unaffected since
// they carry their own line-item snapshots.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	req.apply(p)
	p.UpdatedAt = time.Now().UTC()

	if err := h.products.Update(r.Context(), p); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.domainToProductResponse(*p))
}

// DeactivateProduct soft-deletes a product. It disappears from the public
// catalog but stays resolvable for historical orders.
func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.products.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminListOrders lists orders across all users, filterable by status and
// user.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	f := order.Filter{
		Status: order.Status(r.URL.Query().Get("status")),
		UserID: r.URL.Query().Get("userId"),
	}
	if f.Status != "" && !order.ValidStatus(f.Status) {
		respondDomainError(w, r, order.ErrInvalidStatus)
		return
	}
	orders, err := h.orderService.List(r.Context(), f)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = h.toOrderResponse(&orders[i])
	}
	respondJSON(w, http.StatusOK, out)
}

type updateStatusRequest struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"trackingNumber" validate:"max=100"`
	Carrier        string `json:"carrier" validate:"max=100"`
	Notes          string `json:"notes" validate:"max=1000"`
}

// UpdateOrderStatus moves an order through the fulfilment flow.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orderService.UpdateStatus(r.Context(), r.PathValue("id"),
		order.Status(req.Status), req.TrackingNumber, req.Carrier, req.Notes)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toOrderResponse(o))
}

type updatePaymentRequest struct {
	Status     string `json:"status" validate:"required,oneof=pending paid failed refunded"`
	PaymentRef string `json:"paymentRef" validate:"max=200"`
}

// UpdatePaymentStatus records a payment outcome reported by the payment
// provider.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req updatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orderService.UpdatePaymentStatus(r.Context(), r.PathValue("id"),
		order.PaymentStatus(req.Status), req.PaymentRef)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toOrderResponse(o))
}

type decisionRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes" validate:"max=1000"`
}

// ProcessCancellation approves or rejects a pending cancellation request.
func (h *Handler) ProcessCancellation(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orderService.ProcessCancellation(r.Context(), r.PathValue("id"),
		req.Approved, identityFrom(r.Context()).UserID, req.Notes)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toOrderResponse(o))
}

type returnDecisionRequest struct {
	Approved       bool    `json:"approved"`
	RefundAmount   float64 `json:"refundAmount" validate:"min=0"`
	RefundMethod   string  `json:"refundMethod" validate:"max=100"`
	TrackingNumber string  `json:"trackingNumber" validate:"max=100"`
	Notes          string  `json:"notes" validate:"max=1000"`
}

// ProcessReturn approves or rejects a pending return request. On approval
// the refund amount defaults to the order total when not given.
func (h *Handler) ProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req returnDecisionRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orderService.ProcessReturn(r.Context(), r.PathValue("id"),
		req.Approved, identityFrom(r.Context()).UserID,
		decimal.NewFromFloat(req.RefundAmount), req.RefundMethod, req.TrackingNumber, req.Notes)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toOrderResponse(o))
}

type couponRequest struct {
	Code            string    `json:"code" validate:"required,max=64"`
	Description     string    `json:"description" validate:"max=500"`
	DiscountType    string    `json:"discountType" validate:"required,oneof=percentage fixed"`
	Discount        float64   `json:"discount" validate:"required,gt=0"`
	Categories      []string  `json:"categories" validate:"dive,max=100"`
	MinOrderAmount  float64   `json:"minOrderAmount" validate:"min=0"`
	MaxDiscount     *float64  `json:"maxDiscount" validate:"omitempty,gt=0"`
	UsageLimit      *int      `json:"usageLimit" validate:"omitempty,gt=0"`
	ValidFrom       time.Time `json:"validFrom" validate:"required"`
	ValidUntil      time.Time `json:"validUntil" validate:"required,gtfield=ValidFrom"`
	FirstTimeOnly   bool      `json:"firstTimeOnly"`
	ApplicableUsers []string  `json:"applicableUsers"`
	ExcludedUsers   []string  `json:"excludedUsers"`
}

func (req couponRequest) apply(rule *coupon.Rule) {
	rule.Description = req.Description
	rule.DiscountType = coupon.DiscountType(req.DiscountType)
	rule.Discount = decimal.NewFromFloat(req.Discount)
	rule.Categories = req.Categories
	rule.MinOrderAmount = decimal.NewFromFloat(req.MinOrderAmount)
	rule.ValidFrom = req.ValidFrom
	rule.ValidUntil = req.ValidUntil
	rule.FirstTimeOnly = req.FirstTimeOnly
	rule.ApplicableUsers = req.ApplicableUsers
	rule.ExcludedUsers = req.ExcludedUsers

	rule.MaxDiscount = decimal.NewFromInt(coupon.Unlimited)
	if req.MaxDiscount != nil {
		rule.MaxDiscount = decimal.NewFromFloat(*req.MaxDiscount)
	}
	rule.UsageLimit = coupon.Unlimited
	if req.UsageLimit != nil {
		rule.UsageLimit = *req.UsageLimit
	}
}

type couponResponse struct {
	Code            string    `json:"code"`
	Description     string    `json:"description,omitempty"`
	DiscountType    string    `json:"discountType"`
	Discount        float64   `json:"discount"`
	Categories      []string  `json:"categories,omitempty"`
	MinOrderAmount  float64   `json:"minOrderAmount"`
	MaxDiscount     *float64  `json:"maxDiscount,omitempty"`
	UsageLimit      *int      `json:"usageLimit,omitempty"`
	UsedCount       int       `json:"usedCount"`
	ValidFrom       time.Time `json:"validFrom"`
	ValidUntil      time.Time `json:"validUntil"`
	Active          bool      `json:"active"`
	FirstTimeOnly   bool      `json:"firstTimeOnly"`
	ApplicableUsers []string  `json:"applicableUsers,omitempty"`
	ExcludedUsers   []string  `json:"excludedUsers,omitempty"`
}

func toCouponResponse(rule coupon.Rule) couponResponse {
	resp := couponResponse{
		Code:            rule.Code,
		Description:     rule.Description,
		DiscountType:    string(rule.DiscountType),
		Discount:        rule.Discount.InexactFloat64(),
		Categories:      rule.Categories,
		MinOrderAmount:  rule.MinOrderAmount.InexactFloat64(),
		UsedCount:       rule.UsedCount,
		ValidFrom:       rule.ValidFrom,
		ValidUntil:      rule.ValidUntil,
		Active:          rule.Active,
		FirstTimeOnly:   rule.FirstTimeOnly,
		ApplicableUsers: rule.ApplicableUsers,
		ExcludedUsers:   rule.ExcludedUsers,
	}
	if rule.MaxDiscount.Sign() >= 0 {
		v := rule.MaxDiscount.InexactFloat64()
		resp.MaxDiscount = &v
	}
	if rule.UsageLimit != coupon.Unlimited {
		resp.UsageLimit = &rule.UsageLimit
	}
	return resp
}

// ListCoupons returns all coupons, including inactive ones.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	rules, err := h.coupons.List(r.Context(), true)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	out := make([]couponResponse, len(rules))
	for i, rule := range rules {
		out[i] = toCouponResponse(rule)
	}
	respondJSON(w, http.StatusOK, out)
}

// CreateCoupon registers a new coupon rule.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	rule := &coupon.Rule{
		Code:      req.Code,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(rule)

	if err := h.coupons.Create(r.Context(), rule); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCouponResponse(*rule))
}

// UpdateCoupon replaces a coupon's rule fields. The redemption counter is
// never writable through this endpoint.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.coupons.FindByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	req.apply(rule)
	rule.UpdatedAt = time.Now().UTC()

	if err := h.coupons.Update(r.Context(), rule); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCouponResponse(*rule))
}

// DeactivateCoupon turns a coupon off without deleting its redemption
// history.
func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Deactivate(r.Context(), r.PathValue("code")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shippingSettingsRequest struct {
	FlatFee               float64 `json:"flatFee" validate:"min=0"`
	FreeShippingThreshold float64 `json:"freeShippingThreshold" validate:"min=0"`
}

type shippingSettingsResponse struct {
	FlatFee               float64 `json:"flatFee"`
	FreeShippingThreshold float64 `json:"freeShippingThreshold"`
}

// GetShippingSettings returns the shipping pricing currently in effect.
func (h *Handler) GetShippingSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.ShippingConfig(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, shippingSettingsResponse{
		FlatFee:               cfg.FlatFee.InexactFloat64(),
		FreeShippingThreshold: cfg.FreeShippingThreshold.InexactFloat64(),
	})
}

// UpdateShippingSettings persists new shipping pricing. It takes effect for
// the next checkout; existing orders keep their snapshotted shipping cost.
func (h *Handler) UpdateShippingSettings(w http.ResponseWriter, r *http.Request) {
	var req shippingSettingsRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := order.ShippingConfig{
		FlatFee:               decimal.NewFromFloat(req.FlatFee),
		FreeShippingThreshold: decimal.NewFromFloat(req.FreeShippingThreshold),
	}
	if err := h.settings.UpdateShippingConfig(r.Context(), cfg); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, shippingSettingsResponse{
		FlatFee:               cfg.FlatFee.InexactFloat64(),
		FreeShippingThreshold: cfg.FreeShippingThreshold.InexactFloat64(),
	})
}
