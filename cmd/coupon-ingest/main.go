// Command coupon-ingest produces and loads batches of single-use coupon
// codes.
//
//	coupon-ingest generate -count 5000 -prefix FALL- -out fall.gz
//	coupon-ingest import -files partner1.gz,partner2.gz -min-files 2
//
// generate writes gzip files with one random code per line. import reads
// such files and upserts every accepted code as a coupon built from the
// discount flags. With -min-files above one, only codes present in at least
// that many files are accepted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appkg "github.com/xenking/bookstore-coupons/internal/app"
	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

type config struct {
	Store       string            `default:"postgres" usage:"Storage backend: postgres or mongo" env:"STORE" flag:"store"`
	DatabaseURL string            `usage:"PostgreSQL connection URL" env:"DATABASE_URL" flag:"database-url"`
	Mongo       appkg.MongoConfig `env:"MONGO" flag:"mongo"`

	Out    string `default:"coupons.gz" usage:"generate: output file" flag:"out"`
	Count  int    `default:"1000" usage:"generate: number of codes" flag:"count"`
	Prefix string `usage:"generate: code prefix" flag:"prefix"`
	Length int    `default:"8" usage:"generate: random characters per code" flag:"length"`

	Files       []string      `usage:"import: gzip code files" flag:"files"`
	MinFiles    int           `default:"1" usage:"import: files a code must appear in" flag:"min-files"`
	Workers     int           `default:"8" usage:"import: concurrent upserts" flag:"workers"`
	MinCodeLen  int           `default:"4" usage:"import: shortest accepted code" flag:"min-code-len"`
	MaxCodeLen  int           `default:"32" usage:"import: longest accepted code" flag:"max-code-len"`
	Expected    uint          `default:"10000000" usage:"import: expected codes per file" flag:"expected-codes"`
	Discount    string        `default:"PERCENTAGE" usage:"import: PERCENTAGE or FIXED" flag:"discount-type"`
	Amount      string        `default:"10" usage:"import: discount amount" flag:"discount-amount"`
	MinPurchase string        `default:"0" usage:"import: minimum purchase amount" flag:"min-purchase"`
	ValidFor    time.Duration `default:"720h" usage:"import: time until expiration" flag:"valid-for"`
	MaxUses     int           `default:"1" usage:"import: uses per code, 0 for unlimited" flag:"max-uses"`
	Description string        `usage:"import: coupon description" flag:"description"`
}

func main() {
	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: coupon-ingest generate|import [flags]")
		os.Exit(2)
	}
	mode := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)

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

	switch mode {
	case "generate":
		err = runGenerate(ctx, lg, cfg)
	case "import":
		err = runImport(ctx, lg, cfg)
	default:
		err = errors.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		lg.Fatal("Coupon ingest failed", zap.String("mode", mode), zap.Error(err))
	}
	lg.Info("Coupon ingest completed", zap.String("mode", mode))
}

func runGenerate(ctx context.Context, lg *zap.Logger, cfg config) error {
	f, err := os.Create(cfg.Out)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer func() { _ = f.Close() }()

	n, err := generateCodes(ctx, f, coupon.NormalizeCode(cfg.Prefix), cfg.Length, cfg.Count)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close output")
	}
	lg.Info("Generated codes", zap.Int("count", n), zap.String("file", cfg.Out))
	return nil
}

func runImport(ctx context.Context, lg *zap.Logger, cfg config) error {
	if len(cfg.Files) == 0 {
		return errors.New("no input files: set -files")
	}
	tmpl, err := template(cfg, time.Now())
	if err != nil {
		return err
	}

	codes, err := collectCodes(ctx, lg, cfg.Files, scanOptions{
		minFiles: cfg.MinFiles,
		minLen:   cfg.MinCodeLen,
		maxLen:   cfg.MaxCodeLen,
		expected: cfg.Expected,
	})
	if err != nil {
		return err
	}
	lg.Info("Accepted codes", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	stores, err := appkg.OpenStores(ctx, lg, &appkg.Config{
		Store:       cfg.Store,
		DatabaseURL: cfg.DatabaseURL,
		Mongo:       cfg.Mongo,
	})
	if err != nil {
		return err
	}
	defer stores.Close()

	return upsertCodes(ctx, lg, stores.Coupons, tmpl, codes, cfg.Workers)
}

// template builds the coupon every imported code is copied from.
func template(cfg config, now time.Time) (coupon.Coupon, error) {
	kind, ok := coupon.ParseKind(cfg.Discount)
	if !ok {
		return coupon.Coupon{}, errors.Errorf("unknown discount type %q", cfg.Discount)
	}
	amount, err := decimal.NewFromString(cfg.Amount)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse discount amount")
	}
	discount, err := coupon.NewDiscount(kind, amount)
	if err != nil {
		return coupon.Coupon{}, err
	}
	minPurchase, err := decimal.NewFromString(cfg.MinPurchase)
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse minimum purchase")
	}

	c := coupon.Coupon{
		Discount:    discount,
		Description: cfg.Description,
		MinPurchase: minPurchase,
		ExpiresAt:   now.Add(cfg.ValidFor).UTC(),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cfg.MaxUses > 0 {
		maxUses := cfg.MaxUses
		c.MaxUses = &maxUses
	}
	return c, nil
}
