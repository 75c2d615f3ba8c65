// Package review models product reviews and their effect on the product's
// running rating average.
package review

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrInvalidRating is returned for ratings outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrAlreadyReviewed is returned when the user already reviewed the product.
	ErrAlreadyReviewed = errors.New("product already reviewed by this user")
)

// Review is one customer review of a product.
type Review struct {
	ID        string
	ProductID string
	UserID    string
	Rating    int
	Title     string
	Comment   string
	CreatedAt time.Time
}

// Validate checks the rating range.
func (r *Review) Validate() error {
	if r.Rating < 1 || r.Rating > 5 {
		return ErrInvalidRating
	}
	return nil
}

// Repository persists reviews. Create must update the owning product's
// running rating average and review count atomically with the insert, so two
// concurrent reviews both land in the average.
type Repository interface {
	Create(ctx context.Context, r *Review) error
	ListByProduct(ctx context.Context, productID string) ([]Review, error)
}
