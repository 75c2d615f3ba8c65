package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalblend/commerce-api/internal/domain/review"
)

const (
	insertReviewSQL = `INSERT INTO reviews (id, product_id, user_id, rating, title, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listReviewsSQL = `SELECT id, product_id, user_id, rating, title, comment, created_at
		FROM reviews WHERE product_id = $1 ORDER BY created_at DESC`

	// Recomputes the running average and count from the review rows in the
	// same transaction as the insert, so concurrent reviews both land in
	// the average.
	refreshRatingSQL = `UPDATE products SET
			rating = (SELECT coalesce(avg(rating), 0) FROM reviews WHERE product_id = $1),
			review_count = (SELECT count(*) FROM reviews WHERE product_id = $1),
			updated_at = now()
		WHERE id = $1`
)

var _ review.Repository = (*ReviewRepository)(nil)

// ReviewRepository implements review.Repository backed by PostgreSQL.
type ReviewRepository struct {
	pool *pgxpool.Pool
}

// NewReviewRepository returns a ReviewRepository that uses the given pool.
func NewReviewRepository(pool *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Create inserts a review and refreshes the product's rating aggregate in one
// transaction. Returns review.ErrAlreadyReviewed when the (product, user)
// pair already has a review.
func (r *ReviewRepository) Create(ctx context.Context, rev *review.Review) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("creating review: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, insertReviewSQL,
		rev.ID, rev.ProductID, rev.UserID, rev.Rating, rev.Title, rev.Comment, rev.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return review.ErrAlreadyReviewed
		}
		return fmt.Errorf("creating review for product %q: %w", rev.ProductID, err)
	}

	if _, err := tx.Exec(ctx, refreshRatingSQL, rev.ProductID); err != nil {
		return fmt.Errorf("refreshing rating for product %q: %w", rev.ProductID, err)
	}
	return tx.Commit(ctx)
}

// ListByProduct returns all reviews of a product, newest first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string) ([]review.Review, error) {
	rows, err := r.pool.Query(ctx, listReviewsSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing reviews for product %q: %w", productID, err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (review.Review, error) {
		var rev review.Review
		err := row.Scan(&rev.ID, &rev.ProductID, &rev.UserID, &rev.Rating,
			&rev.Title, &rev.Comment, &rev.CreatedAt)
		return rev, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing reviews for product %q: %w", productID, err)
	}
	return list, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
