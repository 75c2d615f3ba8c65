package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vitalblend/commerce-api/internal/domain/product"
	"github.com/vitalblend/commerce-api/internal/domain/review"
)

type sizeResponse struct {
	Label   string  `json:"label"`
	Price   float64 `json:"price"`
	Stock   int     `json:"stock"`
	SKU     string  `json:"sku,omitempty"`
	InStock bool    `json:"inStock"`
}

type productResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Image       string            `json:"image"`
	Images      []string          `json:"images,omitempty"`
	Sizes       []sizeResponse    `json:"sizes"`
	Ingredients []string          `json:"ingredients,omitempty"`
	Nutrition   map[string]string `json:"nutrition,omitempty"`
	Rating      float64           `json:"rating"`
	ReviewCount int               `json:"reviewCount"`
	Featured    bool              `json:"featured"`
	InStock     bool              `json:"inStock"`
}

// domainToProductResponse converts a catalog product into the response shape.
// Image paths are prefixed with the configured imageBaseURL.
func (h *Handler) domainToProductResponse(p product.Product) productResponse {
	sizes := make([]sizeResponse, len(p.Sizes))
	for i, s := range p.Sizes {
		sizes[i] = sizeResponse{
			Label:   s.Label,
			Price:   s.Price.InexactFloat64(),
			Stock:   s.Stock,
			SKU:     s.SKU,
			InStock: s.Stock > 0,
		}
	}
	images := make([]string, len(p.Images))
	for i, img := range p.Images {
		images[i] = h.imageBaseURL + img
	}
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Image:       h.imageBaseURL + p.Image,
		Images:      images,
		Sizes:       sizes,
		Ingredients: p.Ingredients,
		Nutrition:   p.Nutrition,
		Rating:      p.Rating,
		ReviewCount: p.ReviewCount,
		Featured:    p.Featured,
		InStock:     p.InStock,
	}
}

// ListProducts returns the active catalog, optionally filtered by category
// or featured flag.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	f := product.Filter{
		Category: r.URL.Query().Get("category"),
		Featured: r.URL.Query().Get("featured") == "true",
	}
	products, err := h.products.List(r.Context(), f)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = h.domainToProductResponse(p)
	}
	respondJSON(w, http.StatusOK, out)
}

// GetProduct returns a single product by ID. Inactive products are hidden
// from the public catalog.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if !p.Active {
		respondError(w, http.StatusNotFound, product.ErrNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.domainToProductResponse(*p))
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Title   string `json:"title" validate:"max=200"`
	Comment string `json:"comment" validate:"max=2000"`
}

type reviewResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating"`
	Title     string    `json:"title,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateReview records a customer review and updates the product's running
// rating.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The product must exist and be visible.
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil || !p.Active {
		respondError(w, http.StatusNotFound, product.ErrNotFound.Error())
		return
	}

	rev := &review.Review{
		ID:        uuid.New().String(),
		ProductID: p.ID,
		UserID:    identityFrom(r.Context()).UserID,
		Rating:    req.Rating,
		Title:     req.Title,
		Comment:   req.Comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := rev.Validate(); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := h.reviews.Create(r.Context(), rev); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toReviewResponse(*rev))
}

// ListReviews returns a product's reviews, newest first.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.reviews.ListByProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	out := make([]reviewResponse, len(reviews))
	for i, rev := range reviews {
		out[i] = toReviewResponse(rev)
	}
	respondJSON(w, http.StatusOK, out)
}

func toReviewResponse(rev review.Review) reviewResponse {
	return reviewResponse{
		ID:        rev.ID,
		ProductID: rev.ProductID,
		UserID:    rev.UserID,
		Rating:    rev.Rating,
		Title:     rev.Title,
		Comment:   rev.Comment,
		CreatedAt: rev.CreatedAt,
	}
}
