package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist
	// or has been deactivated.
	ErrNotFound = errors.New("product not found")
	// ErrSizeNotFound is returned when a product has no size with the
	// requested label.
	ErrSizeNotFound = errors.New("product size not found")
	// ErrInsufficientStock is returned when a conditional stock decrement
	// cannot be satisfied by the remaining stock.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Size is a purchasable variant of a product with its own price and stock.
// Labels are unique within a product.
type Size struct {
	Label string
	Price decimal.Decimal
	Stock int
	SKU   string
}

// Product represents a catalog item. Sizes carry the actual prices and stock
// counts; InStock is the derived "any size has stock > 0" flag.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Image       string
	Images      []string
	Sizes       []Size
	Ingredients []string
	Nutrition   map[string]string
	Rating      float64
	ReviewCount int
	Featured    bool
	Active      bool
	InStock     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FindSize returns the size entry with the given label, or nil.
func (p *Product) FindSize(label string) *Size {
	for i := range p.Sizes {
		if p.Sizes[i].Label == label {
			return &p.Sizes[i]
		}
	}
	return nil
}

// SizeAvailable reports whether the product has a size with the given label
// and at least one unit in stock.
func (p *Product) SizeAvailable(label string) bool {
	s := p.FindSize(label)
	return s != nil && s.Stock > 0
}

// DecrementSize reduces the stock of the named size by quantity, flooring at
// zero, and recomputes the aggregate InStock flag. It returns false when the
// label does not exist on the product.
//
// This is the in-memory view of the ledger; the persistent path goes through
// Repository.DecrementStock, which refuses decrements the remaining stock
// cannot cover. Callers must check availability before committing an order.
func (p *Product) DecrementSize(label string, quantity int) bool {
	s := p.FindSize(label)
	if s == nil {
		return false
	}
	s.Stock -= quantity
	if s.Stock < 0 {
		s.Stock = 0
	}
	p.RecomputeInStock()
	return true
}

// RecomputeInStock refreshes the aggregate in-stock flag.
func (p *Product) RecomputeInStock() {
	p.InStock = false
	for i := range p.Sizes {
		if p.Sizes[i].Stock > 0 {
			p.InStock = true
			return
		}
	}
}

// Filter narrows a catalog listing.
type Filter struct {
	Category string
	Featured bool
	// IncludeInactive lists soft-deleted products too; admin only.
	IncludeInactive bool
}

// Repository defines persistence operations for the product catalog.
//
// DecrementStock and RestoreStock are atomic conditional updates at the
// storage layer: two concurrent orders for the last unit must not both
// succeed, so the availability check and the decrement happen in a single
// statement instead of a read-then-write from application code.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Deactivate(ctx context.Context, id string) error

	// DecrementStock subtracts quantity from the named size only if enough
	// stock remains. Returns ErrInsufficientStock when the guard fails and
	// ErrSizeNotFound when the (product, label) pair does not exist.
	DecrementStock(ctx context.Context, productID, sizeLabel string, quantity int) error
	// RestoreStock adds quantity back to the named size (cancellation
	// compensation).
	RestoreStock(ctx context.Context, productID, sizeLabel string, quantity int) error
}
