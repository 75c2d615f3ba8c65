// Package cart models the per-user shopping cart. Carts are persisted in a
// keyed store (one entry per user), so cart state survives restarts and is
// shared across server instances. Checkout consumes the cart purely as an
// input list of line items.
package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrEmpty is returned when an operation requires a non-empty cart.
var ErrEmpty = errors.New("cart is empty")

// Item is one (product, size) line in a cart. Price is the unit price at the
// time the item was added; it is refreshed from the catalog at checkout.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	SizeLabel string          `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
	Category  string          `json:"category"`
}

// Cart is the full cart contents for one user.
type Cart struct {
	UserID string `json:"userId"`
	Items  []Item `json:"items"`
}

// Subtotal is the sum of price * quantity over all items.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// Upsert adds the item or, when a line with the same product and size already
// exists, replaces its quantity. Concurrent requests from one user's multiple
// devices race last-write-wins, which is acceptable for cart state.
func (c *Cart) Upsert(item Item) {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID && c.Items[i].SizeLabel == item.SizeLabel {
			c.Items[i] = item
			return
		}
	}
	c.Items = append(c.Items, item)
}

// Remove deletes the line with the given product and size, if present.
func (c *Cart) Remove(productID, sizeLabel string) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].SizeLabel == sizeLabel {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return
		}
	}
}

// Store persists carts keyed by user ID.
type Store interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, userID string) error
}
