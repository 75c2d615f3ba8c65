package api

import (
	"net/http"

	"github.com/vitalblend/commerce-api/internal/domain/cart"
	"github.com/vitalblend/commerce-api/internal/domain/product"
)

type cartItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=99"`
}

type cartItemResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Size      string  `json:"size"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
	Category  string  `json:"category"`
}

type cartResponse struct {
	Items    []cartItemResponse `json:"items"`
	Subtotal float64            `json:"subtotal"`
}

func (h *Handler) toCartResponse(c *cart.Cart) cartResponse {
	items := make([]cartItemResponse, len(c.Items))
	for i, it := range c.Items {
		items[i] = cartItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Size:      it.SizeLabel,
			Price:     it.Price.InexactFloat64(),
			Quantity:  it.Quantity,
			Image:     h.imageBaseURL + it.Image,
			Category:  it.Category,
		}
	}
	return cartResponse{Items: items, Subtotal: c.Subtotal().InexactFloat64()}
}

// GetCart returns the caller's persisted cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), identityFrom(r.Context()).UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toCartResponse(c))
}

// UpsertCartItem adds a line to the cart or replaces the quantity of an
// existing (product, size) line. The price is snapshotted from the live
// catalog so the cart view stays honest; checkout re-snapshots it anyway.
func (h *Handler) UpsertCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.products.GetByID(r.Context(), req.ProductID)
	if err != nil || !p.Active {
		respondError(w, http.StatusNotFound, product.ErrNotFound.Error())
		return
	}
	size := p.FindSize(req.Size)
	if size == nil {
		respondDomainError(w, r, product.ErrSizeNotFound)
		return
	}

	userID := identityFrom(r.Context()).UserID
	c, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	c.Upsert(cart.Item{
		ProductID: p.ID,
		Name:      p.Name,
		SizeLabel: size.Label,
		Price:     size.Price,
		Quantity:  req.Quantity,
		Image:     p.Image,
		Category:  p.Category,
	})
	if err := h.carts.Save(r.Context(), c); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toCartResponse(c))
}

// RemoveCartItem deletes one (product, size) line from the cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r.Context()).UserID
	c, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	c.Remove(r.PathValue("productID"), r.PathValue("size"))
	if err := h.carts.Save(r.Context(), c); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.toCartResponse(c))
}

// ClearCart empties the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), identityFrom(r.Context()).UserID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
