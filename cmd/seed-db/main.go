// Command seed-db loads the catalog from a products JSON file and seeds
// starter coupons and API keys. Safe to re-run: everything upserts.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitalblend/commerce-api/internal/domain/auth"
	"github.com/vitalblend/commerce-api/internal/domain/coupon"
	"github.com/vitalblend/commerce-api/internal/domain/product"
	"github.com/vitalblend/commerce-api/internal/repository"
)

type sizeJSON struct {
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
	SKU   string          `json:"sku"`
}

type productJSON struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Image       string            `json:"image"`
	Images      []string          `json:"images"`
	Sizes       []sizeJSON        `json:"sizes"`
	Ingredients []string          `json:"ingredients"`
	Nutrition   map[string]string `json:"nutrition"`
	Featured    bool              `json:"featured"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		customerKey  string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&customerKey, "customer-key", "", "customer API key to seed (or VB_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or VB_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or VB_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if customerKey == "" {
		customerKey = os.Getenv("VB_SEED_CUSTOMER_KEY")
	}
	if adminKey == "" {
		adminKey = os.Getenv("VB_SEED_ADMIN_KEY")
	}
	if customerKey == "" || adminKey == "" {
		slog.Error("API keys are required: set --customer-key/--admin-key or VB_SEED_CUSTOMER_KEY/VB_SEED_ADMIN_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("VB_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, customerKey, adminKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, customerKey, adminKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, repository.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKeys(ctx, repository.NewAPIKeyRepository(pool), customerKey, adminKey, pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}
	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, in := range products {
		p := &product.Product{
			ID:          in.ID,
			Name:        in.Name,
			Description: in.Description,
			Category:    in.Category,
			Image:       in.Image,
			Images:      in.Images,
			Ingredients: in.Ingredients,
			Nutrition:   in.Nutrition,
			Featured:    in.Featured,
			Active:      true,
		}
		for _, s := range in.Sizes {
			p.Sizes = append(p.Sizes, product.Size{
				Label: s.Label,
				Price: s.Price,
				Stock: s.Stock,
				SKU:   s.SKU,
			})
		}
		p.RecomputeInStock()

		if _, err := repo.GetByID(ctx, p.ID); err != nil {
			if !errors.Is(err, product.ErrNotFound) {
				return errors.Wrapf(err, "check product %s", p.ID)
			}
			if err := repo.Create(ctx, p); err != nil {
				return errors.Wrapf(err, "create product %s", p.ID)
			}
			continue
		}
		if err := repo.Update(ctx, p); err != nil {
			return errors.Wrapf(err, "update product %s", p.ID)
		}
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *repository.CouponRepository) error {
	now := time.Now().UTC()
	year := now.AddDate(1, 0, 0)

	rules := []coupon.Rule{
		{
			Code:           "WELCOME10",
			Description:    "10% off your first order",
			DiscountType:   coupon.DiscountPercentage,
			Discount:       decimal.NewFromInt(10),
			MinOrderAmount: decimal.Zero,
			MaxDiscount:    decimal.NewFromInt(coupon.Unlimited),
			UsageLimit:     coupon.Unlimited,
			FirstTimeOnly:  true,
		},
		{
			Code:           "SAVE10",
			Description:    "10% off, up to 50 discount",
			DiscountType:   coupon.DiscountPercentage,
			Discount:       decimal.NewFromInt(10),
			MinOrderAmount: decimal.NewFromInt(500),
			MaxDiscount:    decimal.NewFromInt(50),
			UsageLimit:     coupon.Unlimited,
		},
		{
			Code:           "PROTEIN20",
			Description:    "20% off protein blends",
			DiscountType:   coupon.DiscountPercentage,
			Discount:       decimal.NewFromInt(20),
			Categories:     []string{"protein"},
			MinOrderAmount: decimal.Zero,
			MaxDiscount:    decimal.NewFromInt(coupon.Unlimited),
			UsageLimit:     coupon.Unlimited,
		},
		{
			Code:           "FLAT100",
			Description:    "100 off orders over 1000",
			DiscountType:   coupon.DiscountFixed,
			Discount:       decimal.NewFromInt(100),
			MinOrderAmount: decimal.NewFromInt(1000),
			MaxDiscount:    decimal.NewFromInt(coupon.Unlimited),
			UsageLimit:     1000,
		},
	}

	slog.Info("upserting coupons", slog.Int("count", len(rules)))

	for i := range rules {
		rules[i].ValidFrom = now
		rules[i].ValidUntil = year
		rules[i].Active = true
		rules[i].CreatedAt = now
		rules[i].UpdatedAt = now

		if _, err := repo.FindByCode(ctx, rules[i].Code); err != nil {
			if !errors.Is(err, coupon.ErrNotFound) {
				return errors.Wrapf(err, "check coupon %s", rules[i].Code)
			}
			if err := repo.Create(ctx, &rules[i]); err != nil {
				return errors.Wrapf(err, "create coupon %s", rules[i].Code)
			}
			continue
		}
		if err := repo.Update(ctx, &rules[i]); err != nil {
			return errors.Wrapf(err, "update coupon %s", rules[i].Code)
		}
	}
	return nil
}

func seedAPIKeys(ctx context.Context, repo *repository.APIKeyRepository, customerKey, adminKey, pepper string) error {
	slog.Info("upserting api keys")

	keys := []struct {
		key    string
		userID string
		name   string
		scopes []string
	}{
		{customerKey, "seed-customer", "seed customer key", []string{"customer"}},
		{adminKey, "seed-admin", "seed admin key", []string{"customer", "admin"}},
	}
	for _, k := range keys {
		mac := hmac.New(sha256.New, []byte(pepper))
		mac.Write([]byte(k.key))

		if err := repo.Upsert(ctx, &auth.APIKeyInfo{
			ID:      uuid.New().String(),
			KeyHash: hex.EncodeToString(mac.Sum(nil)),
			UserID:  k.userID,
			Name:    k.name,
			Scopes:  k.scopes,
		}); err != nil {
			return errors.Wrapf(err, "upsert key %s", k.name)
		}
	}
	return nil
}
