package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalblend/commerce-api/internal/domain/product"
)

const (
	selectProductColumns = `id, name, description, category, image, images,
		ingredients, nutrition, rating, review_count, featured, active, in_stock,
		created_at, updated_at`

	insertProductSQL = `INSERT INTO products (id, name, description, category, image,
		images, ingredients, nutrition, featured, active, in_stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	updateProductSQL = `UPDATE products SET name = $2, description = $3, category = $4,
		image = $5, images = $6, ingredients = $7, nutrition = $8, featured = $9,
		active = $10, in_stock = $11, updated_at = now()
		WHERE id = $1`

	deactivateProductSQL = `UPDATE products SET active = FALSE, updated_at = now() WHERE id = $1`

	upsertSizeSQL = `INSERT INTO product_sizes (product_id, label, price, stock, sku, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_id, label)
		DO UPDATE SET price = EXCLUDED.price, stock = EXCLUDED.stock,
			sku = EXCLUDED.sku, position = EXCLUDED.position`

	deleteStaleSizesSQL = `DELETE FROM product_sizes WHERE product_id = $1 AND NOT (label = ANY($2))`

	selectSizesSQL = `SELECT product_id, label, price, stock, sku FROM product_sizes
		WHERE product_id = ANY($1) ORDER BY product_id, position, label`

	// Guarded decrement: fails (zero rows) when remaining stock cannot
	// cover the quantity, so concurrent orders for the last unit cannot
	// both succeed.
	decrementStockSQL = `UPDATE product_sizes SET stock = stock - $3
		WHERE product_id = $1 AND label = $2 AND stock >= $3`

	restoreStockSQL = `UPDATE product_sizes SET stock = stock + $3
		WHERE product_id = $1 AND label = $2`

	sizeExistsSQL = `SELECT EXISTS (SELECT 1 FROM product_sizes WHERE product_id = $1 AND label = $2)`

	refreshInStockSQL = `UPDATE products SET in_stock = EXISTS (
			SELECT 1 FROM product_sizes WHERE product_id = $1 AND stock > 0
		), updated_at = now()
		WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
// Products and their sizes live in two tables; reads join them in two
// queries and assemble in memory.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns catalog products matching the filter, newest first.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	sql := `SELECT ` + selectProductColumns + ` FROM products WHERE TRUE`
	args := []any{}
	if !f.IncludeInactive {
		sql += ` AND active`
	}
	if f.Category != "" {
		args = append(args, f.Category)
		sql += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if f.Featured {
		sql += ` AND featured`
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	if err := r.attachSizes(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetByID returns a single product with its sizes. Returns product.ErrNotFound
// when no matching product exists.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+selectProductColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	list := []product.Product{p}
	if err := r.attachSizes(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// GetByIDs batch-fetches products by ID in a single query. Missing IDs are
// simply absent from the result; callers decide whether that is an error.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+selectProductColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products: %w", err)
	}

	if err := r.attachSizes(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// Create inserts a product and its sizes.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	p.RecomputeInStock()

	images, ingredients, nutrition, err := marshalProductJSON(p)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, insertProductSQL,
		p.ID, p.Name, p.Description, p.Category, p.Image,
		images, ingredients, nutrition,
		p.Featured, p.Active, p.InStock, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.ID, err)
	}

	if err := upsertSizes(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update rewrites a product and reconciles its size rows: sizes absent from
// the new set are removed, the rest upserted.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	p.RecomputeInStock()

	images, ingredients, nutrition, err := marshalProductJSON(p)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("updating product %q: %w", p.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Category, p.Image,
		images, ingredients, nutrition,
		p.Featured, p.Active, p.InStock,
	)
	if err != nil {
		return fmt.Errorf("updating product %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}

	labels := make([]string, len(p.Sizes))
	for i, s := range p.Sizes {
		labels[i] = s.Label
	}
	if _, err := tx.Exec(ctx, deleteStaleSizesSQL, p.ID, labels); err != nil {
		return fmt.Errorf("pruning sizes for product %q: %w", p.ID, err)
	}
	if err := upsertSizes(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Deactivate soft-deletes a product; records are never physically removed.
func (r *ProductRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deactivateProductSQL, id)
	if err != nil {
		return fmt.Errorf("deactivating product %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// DecrementStock conditionally subtracts quantity from the named size and
// refreshes the product's aggregate in-stock flag.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID, sizeLabel string, quantity int) error {
	return decrementStock(ctx, r.pool, productID, sizeLabel, quantity)
}

// RestoreStock adds quantity back to the named size (cancellation
// compensation) and refreshes the aggregate flag.
func (r *ProductRepository) RestoreStock(ctx context.Context, productID, sizeLabel string, quantity int) error {
	return restoreStock(ctx, r.pool, productID, sizeLabel, quantity)
}

// decrementStock is shared with the order-creation transaction.
func decrementStock(ctx context.Context, q querier, productID, sizeLabel string, quantity int) error {
	tag, err := q.Exec(ctx, decrementStockSQL, productID, sizeLabel, quantity)
	if err != nil {
		return fmt.Errorf("decrementing stock for %q/%q: %w", productID, sizeLabel, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, sizeExistsSQL, productID, sizeLabel).Scan(&exists); err != nil {
			return fmt.Errorf("checking size %q/%q: %w", productID, sizeLabel, err)
		}
		if !exists {
			return product.ErrSizeNotFound
		}
		return product.ErrInsufficientStock
	}

	if _, err := q.Exec(ctx, refreshInStockSQL, productID); err != nil {
		return fmt.Errorf("refreshing in-stock flag for %q: %w", productID, err)
	}
	return nil
}

func restoreStock(ctx context.Context, q querier, productID, sizeLabel string, quantity int) error {
	tag, err := q.Exec(ctx, restoreStockSQL, productID, sizeLabel, quantity)
	if err != nil {
		return fmt.Errorf("restoring stock for %q/%q: %w", productID, sizeLabel, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrSizeNotFound
	}
	if _, err := q.Exec(ctx, refreshInStockSQL, productID); err != nil {
		return fmt.Errorf("refreshing in-stock flag for %q: %w", productID, err)
	}
	return nil
}

func upsertSizes(ctx context.Context, q querier, p *product.Product) error {
	for i, s := range p.Sizes {
		_, err := q.Exec(ctx, upsertSizeSQL, p.ID, s.Label, s.Price, s.Stock, s.SKU, i)
		if err != nil {
			return fmt.Errorf("upserting size %q of product %q: %w", s.Label, p.ID, err)
		}
	}
	return nil
}

// attachSizes loads and attaches the size rows for the given products.
func (r *ProductRepository) attachSizes(ctx context.Context, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	idx := make(map[string]int, len(products))
	for i := range products {
		ids[i] = products[i].ID
		idx[products[i].ID] = i
	}

	rows, err := r.pool.Query(ctx, selectSizesSQL, ids)
	if err != nil {
		return fmt.Errorf("loading product sizes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			s         product.Size
		)
		if err := rows.Scan(&productID, &s.Label, &s.Price, &s.Stock, &s.SKU); err != nil {
			return fmt.Errorf("scanning product size: %w", err)
		}
		if i, ok := idx[productID]; ok {
			products[i].Sizes = append(products[i].Sizes, s)
		}
	}
	return rows.Err()
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p           product.Product
		images      []byte
		ingredients []byte
		nutrition   []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Image,
		&images, &ingredients, &nutrition,
		&p.Rating, &p.ReviewCount, &p.Featured, &p.Active, &p.InStock,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(images, &p.Images); err != nil {
		return p, fmt.Errorf("decoding images for product %q: %w", p.ID, err)
	}
	if err := json.Unmarshal(ingredients, &p.Ingredients); err != nil {
		return p, fmt.Errorf("decoding ingredients for product %q: %w", p.ID, err)
	}
	if err := json.Unmarshal(nutrition, &p.Nutrition); err != nil {
		return p, fmt.Errorf("decoding nutrition for product %q: %w", p.ID, err)
	}
	return p, nil
}

func marshalProductJSON(p *product.Product) (images, ingredients, nutrition []byte, err error) {
	if images, err = json.Marshal(orEmptySlice(p.Images)); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding images: %w", err)
	}
	if ingredients, err = json.Marshal(orEmptySlice(p.Ingredients)); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding ingredients: %w", err)
	}
	n := p.Nutrition
	if n == nil {
		n = map[string]string{}
	}
	if nutrition, err = json.Marshal(n); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding nutrition: %w", err)
	}
	return images, ingredients, nutrition, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
