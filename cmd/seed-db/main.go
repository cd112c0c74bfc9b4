// Command seed-db loads the book catalog, demo coupons and an admin API key
// into the configured store.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-coupons/db"
	appkg "github.com/xenking/bookstore-coupons/internal/app"
	"github.com/xenking/bookstore-coupons/internal/domain/auth"
	"github.com/xenking/bookstore-coupons/internal/domain/book"
	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

type config struct {
	Store        string            `default:"postgres" usage:"Storage backend: postgres or mongo" env:"STORE" flag:"store"`
	DatabaseURL  string            `usage:"PostgreSQL connection URL" env:"DATABASE_URL" flag:"database-url"`
	Mongo        appkg.MongoConfig `env:"MONGO" flag:"mongo"`
	APIKeyPepper string            `usage:"HMAC pepper for API key hashing" env:"API_KEY_PEPPER" flag:"api-key-pepper"`
	APIKey       string            `required:"true" usage:"Admin API key to store" env:"SEED_API_KEY" flag:"api-key"`
	BooksFile    string            `usage:"Catalog JSON file; the embedded catalog is used when empty" env:"BOOKS_FILE" flag:"books-file"`
}

type bookJSON struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
}

func main() {
	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	var cfg config
	if err := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BOOKSTORE",
		SkipFiles: true,
	}).Load(); err != nil {
		lg.Fatal("Load config", zap.Error(err))
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, cfg); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, cfg config) error {
	stores, err := appkg.OpenStores(ctx, lg, &appkg.Config{
		Store:       cfg.Store,
		DatabaseURL: cfg.DatabaseURL,
		Mongo:       cfg.Mongo,
	})
	if err != nil {
		return err
	}
	defer stores.Close()

	data := db.Books
	if cfg.BooksFile != "" {
		if data, err = os.ReadFile(cfg.BooksFile); err != nil {
			return errors.Wrap(err, "read books file")
		}
	}
	books, err := parseBooks(data)
	if err != nil {
		return err
	}

	for i := range books {
		if err := stores.Books.Upsert(ctx, &books[i]); err != nil {
			return errors.Wrapf(err, "upsert book %s", books[i].ID)
		}
	}
	lg.Info("Upserted books", zap.Int("count", len(books)))

	for _, c := range demoCoupons(time.Now()) {
		if err := stores.Coupons.Upsert(ctx, &c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		lg.Info("Upserted coupon", zap.String("code", c.Code), zap.String("description", c.Description))
	}

	if err := stores.APIKeys.Create(ctx, adminKey(cfg.APIKey, cfg.APIKeyPepper)); err != nil {
		return errors.Wrap(err, "store admin api key")
	}
	lg.Info("Stored admin API key", zap.String("scope", auth.ScopeCouponsAdmin))
	return nil
}

func parseBooks(data []byte) ([]book.Book, error) {
	var raw []bookJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse books JSON")
	}
	books := make([]book.Book, 0, len(raw))
	for _, b := range raw {
		if b.ID == "" || b.Price.IsNegative() {
			return nil, errors.Errorf("invalid book entry %q", b.ID)
		}
		books = append(books, book.Book{
			ID:       b.ID,
			Title:    b.Title,
			Author:   b.Author,
			Price:    b.Price,
			Category: b.Category,
		})
	}
	return books, nil
}

// demoCoupons returns the two coupons the storefront demo relies on.
func demoCoupons(now time.Time) []coupon.Coupon {
	expires := now.AddDate(1, 0, 0).UTC().Truncate(24 * time.Hour)
	return []coupon.Coupon{
		{
			Code:        "SAVE10",
			Description: "$10 off orders of $50 or more",
			Discount:    coupon.Fixed{Value: decimal.NewFromInt(10)},
			MinPurchase: decimal.NewFromInt(50),
			ExpiresAt:   expires,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			Code:        "DEMO20",
			Description: "20% off orders of $500 or more",
			Discount:    coupon.Percentage{Value: decimal.NewFromInt(20)},
			MinPurchase: decimal.NewFromInt(500),
			ExpiresAt:   expires,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

func adminKey(key, pepper string) *auth.APIKeyInfo {
	return &auth.APIKeyInfo{
		ID:      "default-admin",
		KeyHash: auth.HashKey([]byte(pepper), key),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeCouponsAdmin},
	}
}
