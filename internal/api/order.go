package api

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vitalblend/commerce-api/internal/domain/cart"
	"github.com/vitalblend/commerce-api/internal/domain/coupon"
	"github.com/vitalblend/commerce-api/internal/domain/order"
)

type addressRequest struct {
	FullName   string `json:"fullName" validate:"required,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
	Phone      string `json:"phone" validate:"required,max=30"`
}

func (a addressRequest) toDomain() order.Address {
	return order.Address{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type checkoutItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=99"`
}

type checkoutRequest struct {
	// Items may be omitted, in which case the persisted cart is consumed.
	Items         []checkoutItemRequest `json:"items" validate:"omitempty,dive"`
	Address       addressRequest        `json:"address" validate:"required"`
	PaymentMethod string                `json:"paymentMethod" validate:"required,oneof=card cod bank_transfer"`
	CouponCode    string                `json:"couponCode" validate:"omitempty,max=64"`
	Notes         string                `json:"notes" validate:"max=1000"`
}

type appliedCouponResponse struct {
	Code         string  `json:"code"`
	DiscountType string  `json:"discountType"`
	Discount     float64 `json:"discount"`
	Amount       float64 `json:"amount"`
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Size      string  `json:"size"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
	Category  string  `json:"category"`
}

type requestRecordResponse struct {
	RequestedAt time.Time  `json:"requestedAt"`
	Reason      string     `json:"reason"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	AdminNotes  string     `json:"adminNotes,omitempty"`
}

type returnRecordResponse struct {
	requestRecordResponse
	TrackingNumber string  `json:"trackingNumber,omitempty"`
	RefundAmount   float64 `json:"refundAmount,omitempty"`
	RefundMethod   string  `json:"refundMethod,omitempty"`
}

type orderResponse struct {
	ID             string                 `json:"id"`
	Number         string                 `json:"number"`
	UserID         string                 `json:"userId"`
	Items          []orderItemResponse    `json:"items"`
	Address        order.Address          `json:"address"`
	PaymentMethod  string                 `json:"paymentMethod"`
	PaymentStatus  string                 `json:"paymentStatus"`
	Status         string                 `json:"status"`
	Subtotal       float64                `json:"subtotal"`
	ShippingCost   float64                `json:"shippingCost"`
	Discount       float64                `json:"discount"`
	Total          float64                `json:"total"`
	Coupon         *appliedCouponResponse `json:"coupon,omitempty"`
	TrackingNumber string                 `json:"trackingNumber,omitempty"`
	Carrier        string                 `json:"carrier,omitempty"`
	Notes          string                 `json:"notes,omitempty"`
	Cancellation   *requestRecordResponse `json:"cancellation,omitempty"`
	Return         *returnRecordResponse  `json:"return,omitempty"`
	ShippedAt      *time.Time             `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time             `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

func (h *Handler) toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Size:      it.SizeLabel,
			Price:     it.Price.InexactFloat64(),
			Quantity:  it.Quantity,
			Image:     h.imageBaseURL + it.Image,
			Category:  it.Category,
		}
	}

	resp := orderResponse{
		ID:             o.ID,
		Number:         o.Number,
		UserID:         o.UserID,
		Items:          items,
		Address:        o.Address,
		PaymentMethod:  o.PaymentMethod,
		PaymentStatus:  string(o.PaymentStatus),
		Status:         string(o.Status),
		Subtotal:       o.Subtotal.InexactFloat64(),
		ShippingCost:   o.ShippingCost.InexactFloat64(),
		Discount:       o.Discount.InexactFloat64(),
		Total:          o.Total.InexactFloat64(),
		TrackingNumber: o.TrackingNumber,
		Carrier:        o.Carrier,
		Notes:          o.Notes,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Coupon != nil {
		resp.Coupon = &appliedCouponResponse{
			Code:         o.Coupon.Code,
			DiscountType: string(o.Coupon.DiscountType),
			Discount:     o.Coupon.Discount.InexactFloat64(),
			Amount:       o.Coupon.Amount.InexactFloat64(),
		}
	}
	if o.Cancellation != nil {
		resp.Cancellation = &requestRecordResponse{
			RequestedAt: o.Cancellation.RequestedAt,
			Reason:      o.Cancellation.Reason,
			Description: o.Cancellation.Description,
			Status:      string(o.Cancellation.Status),
			ProcessedAt: o.Cancellation.ProcessedAt,
			AdminNotes:  o.Cancellation.AdminNotes,
		}
	}
	if o.Return != nil {
		resp.Return = &returnRecordResponse{
			requestRecordResponse: requestRecordResponse{
				RequestedAt: o.Return.RequestedAt,
				Reason:      o.Return.Reason,
				Description: o.Return.Description,
				Status:      string(o.Return.Status),
				ProcessedAt: o.Return.ProcessedAt,
				AdminNotes:  o.Return.AdminNotes,
			},
			TrackingNumber: o.Return.TrackingNumber,
			RefundAmount:   o.Return.RefundAmount.InexactFloat64(),
			RefundMethod:   o.Return.RefundMethod,
		}
	}
	return resp
}

// Checkout places an order. Items can be passed explicitly or, when omitted,
// are taken from the caller's persisted cart, which is cleared on success.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := identityFrom(r.Context()).UserID
	items := make([]order.CheckoutItem, 0, len(req.Items))
	fromCart := len(req.Items) == 0

	if fromCart {
		c, err := h.carts.Get(r.Context(), userID)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		if len(c.Items) == 0 {
			respondDomainError(w, r, cart.ErrEmpty)
			return
		}
		for _, it := range c.Items {
			items = append(items, order.CheckoutItem{
				ProductID: it.ProductID,
				SizeLabel: it.SizeLabel,
				Quantity:  it.Quantity,
			})
		}
	} else {
		for _, it := range req.Items {
			items = append(items, order.CheckoutItem{
				ProductID: it.ProductID,
				SizeLabel: it.Size,
				Quantity:  it.Quantity,
			})
		}
	}

	o, err := h.orderService.Checkout(r.Context(), order.CheckoutRequest{
		UserID:        userID,
		Items:         items,
		Address:       req.Address.toDomain(),
		PaymentMethod: req.PaymentMethod,
		CouponCode:    req.CouponCode,
		Notes:         req.Notes,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	if fromCart {
		// The order is already durable; a failed clear only leaves a
		// stale cart behind.
		if err := h.carts.Clear(r.Context(), userID); err != nil {
			zctx.From(r.Context()).Warn("cart clear after checkout failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	respondJSON(w, http.StatusCreated, h.toOrderResponse(o))
}

// ListMyOrders returns the caller's orders, newest first.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.List(r.Context(), order.Filter{
		UserID: identityFrom(r.Context()).UserID,
		Status: order.Status(r.URL.Query().Get("status")),
	})
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

// GetOrder returns one of the caller's orders. Other users' orders read as
// not found rather than forbidden.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orderService.Get(r.Context(), r.PathValue("id"), identityFrom(r.Context()).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toOrderResponse(o))
}

type lifecycleRequest struct {
	Reason      string `json:"reason" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
}

// RequestCancellation files a cancellation request on the caller's order.
func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orderService.RequestCancellation(r.Context(),
		r.PathValue("id"), identityFrom(r.Context()).UserID, req.Reason, req.Description)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toOrderResponse(o))
}

// RequestReturn files a return request on the caller's delivered order.
func (h *Handler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orderService.RequestReturn(r.Context(),
		r.PathValue("id"), identityFrom(r.Context()).UserID, req.Reason, req.Description)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toOrderResponse(o))
}

type validateCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
	// Items to price against; when omitted, the caller's cart is used.
	Items []checkoutItemRequest `json:"items" validate:"omitempty,dive"`
}

type validateCouponResponse struct {
	Valid        bool    `json:"valid"`
	Code         string  `json:"code,omitempty"`
	DiscountType string  `json:"discountType,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// ValidateCoupon prices a coupon against the caller's cart (or an explicit
// item list) without redeeming it. An inapplicable coupon is a valid=false
// response, not an error.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := identityFrom(r.Context()).UserID
	items, err := h.couponItems(r, req.Items, userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	snap, err := h.orderService.PreviewCoupon(r.Context(), userID, req.Code, items)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, validateCouponResponse{
			Valid:        true,
			Code:         snap.Code,
			DiscountType: string(snap.DiscountType),
			Amount:       snap.Amount.InexactFloat64(),
		})
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, coupon.ErrNotApplicable),
		errors.Is(err, coupon.ErrUsageLimitReached):
		respondJSON(w, http.StatusOK, validateCouponResponse{Valid: false, Reason: err.Error()})
	default:
		respondDomainError(w, r, err)
	}
}

// couponItems resolves the item list a coupon is priced against, fetching
// catalog prices for explicit items and falling back to the cart.
func (h *Handler) couponItems(r *http.Request, explicit []checkoutItemRequest, userID string) ([]coupon.Item, error) {
	if len(explicit) == 0 {
		c, err := h.carts.Get(r.Context(), userID)
		if err != nil {
			return nil, err
		}
		if len(c.Items) == 0 {
			return nil, cart.ErrEmpty
		}
		items := make([]coupon.Item, len(c.Items))
		for i, it := range c.Items {
			items[i] = coupon.Item{
				ProductID: it.ProductID,
				Category:  it.Category,
				Price:     it.Price,
				Quantity:  it.Quantity,
			}
		}
		return items, nil
	}

	ids := make([]string, len(explicit))
	for i, it := range explicit {
		ids[i] = it.ProductID
	}
	fetched, err := h.products.GetByIDs(r.Context(), ids)
	if err != nil {
		return nil, err
	}
	items := make([]coupon.Item, 0, len(explicit))
	for _, it := range explicit {
		for j := range fetched {
			if fetched[j].ID != it.ProductID {
				continue
			}
			size := fetched[j].FindSize(it.Size)
			if size == nil {
				continue
			}
			items = append(items, coupon.Item{
				ProductID: fetched[j].ID,
				Category:  fetched[j].Category,
				Price:     size.Price,
				Quantity:  it.Quantity,
			})
		}
	}
	return items, nil
}
