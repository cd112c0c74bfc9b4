package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-coupons/internal/domain/auth"
	"github.com/xenking/bookstore-coupons/internal/domain/book"
	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
	"github.com/xenking/bookstore-coupons/internal/domain/order"
	"github.com/xenking/bookstore-coupons/internal/storage/mongodb"
	"github.com/xenking/bookstore-coupons/internal/storage/postgres"
	"github.com/xenking/bookstore-coupons/pkg/health"
)

// CouponStore is the coupon repository plus the bulk upsert used by seeding
// and imports.
type CouponStore interface {
	coupon.Repository
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

// Stores bundles the repositories of the selected backend.
type Stores struct {
	Coupons CouponStore
	History coupon.History
	Books   book.Repository
	Orders  order.Repository
	APIKeys auth.Repository
	// Pinger checks backend connectivity for the readiness endpoint.
	Pinger health.Pinger

	close func()
}

// Close releases the backend connections.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores connects to the backend named by cfg.Store and prepares its
// schema or indexes.
func OpenStores(ctx context.Context, lg *zap.Logger, cfg *Config) (*Stores, error) {
	switch cfg.Store {
	case StorePostgres:
		return openPostgres(ctx, lg, cfg.DatabaseURL)
	case StoreMongo:
		return openMongo(ctx, lg, cfg.Mongo)
	default:
		return nil, errors.Errorf("unknown store %q", cfg.Store)
	}
}

func openPostgres(ctx context.Context, lg *zap.Logger, url string) (*Stores, error) {
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	lg.Info("Connected to PostgreSQL")

	return &Stores{
		Coupons: postgres.NewCouponRepository(pool),
		History: postgres.NewHistoryRepository(pool),
		Books:   postgres.NewBookRepository(pool),
		Orders:  postgres.NewOrderRepository(pool),
		APIKeys: postgres.NewAPIKeyRepository(pool),
		Pinger:  pool,
		close:   pool.Close,
	}, nil
}

func openMongo(ctx context.Context, lg *zap.Logger, cfg MongoConfig) (*Stores, error) {
	store, err := mongodb.Connect(ctx, cfg.URI, cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(context.WithoutCancel(ctx))
		return nil, errors.Wrap(err, "ensure indexes")
	}
	lg.Info("Connected to MongoDB",
		zap.String("database", cfg.Database),
		zap.Bool("transactions", store.Transactions()),
	)

	db := store.Database()
	return &Stores{
		Coupons: mongodb.NewCouponRepository(db, mongodb.WithTransactions(store.Transactions())),
		History: mongodb.NewHistoryRepository(db),
		Books:   mongodb.NewBookRepository(db),
		Orders:  mongodb.NewOrderRepository(db),
		APIKeys: mongodb.NewAPIKeyRepository(db),
		Pinger:  store,
		close: func() {
			if err := store.Close(context.Background()); err != nil {
				lg.Warn("Disconnect MongoDB", zap.Error(err))
			}
		},
	}, nil
}
