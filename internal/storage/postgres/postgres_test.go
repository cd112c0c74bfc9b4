//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/bookstore-coupons/internal/domain/auth"
	"github.com/xenking/bookstore-coupons/internal/domain/book"
	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
	"github.com/xenking/bookstore-coupons/internal/domain/order"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.Run(ctx, "postgres:16-alpine",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "bookstore",
			"POSTGRES_PASSWORD": "bookstore",
			"POSTGRES_DB":       "bookstore",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://bookstore:bookstore@%s:%s/bookstore?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func intPtrOf(v int) *int { return &v }

func testCoupon(code string, d coupon.Discount, minPurchase string) *coupon.Coupon {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &coupon.Coupon{
		Code:        code,
		Discount:    d,
		MinPurchase: decimal.RequireFromString(minPurchase),
		ExpiresAt:   now.Add(24 * time.Hour),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCouponRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewCouponRepository(pool)
	ctx := context.Background()

	save10 := testCoupon("SAVE10", coupon.Fixed{Value: decimal.NewFromInt(10)}, "50")
	save10.Categories = []string{"Fiction"}
	require.NoError(t, repo.Create(ctx, save10))
	require.ErrorIs(t, repo.Create(ctx, save10), coupon.ErrDuplicateCode)

	demo20 := testCoupon("DEMO20", coupon.Percentage{Value: decimal.NewFromInt(20)}, "500")
	demo20.MaxUses = intPtrOf(2)
	demo20.CreatedAt = demo20.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Create(ctx, demo20))

	t.Run("find by code", func(t *testing.T) {
		got, err := repo.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, coupon.KindFixed, got.Discount.Kind())
		assert.True(t, decimal.NewFromInt(10).Equal(got.Discount.Amount()))
		assert.True(t, decimal.NewFromInt(50).Equal(got.MinPurchase))
		assert.Nil(t, got.MaxUses)
		assert.Equal(t, []string{"Fiction"}, got.Categories)

		_, err = repo.FindByCode(ctx, "MISSING")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	t.Run("list active", func(t *testing.T) {
		got, err := repo.ListActive(ctx, time.Now(), decimal.NewFromInt(100))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "SAVE10", got[0].Code)

		got, err = repo.ListActive(ctx, time.Now(), decimal.NewFromInt(1000))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "SAVE10", got[0].Code)
		assert.Equal(t, "DEMO20", got[1].Code)

		got, err = repo.ListActive(ctx, time.Now().Add(48*time.Hour), decimal.NewFromInt(1000))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("increment usage", func(t *testing.T) {
		got, err := repo.IncrementUsage(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, 1, got.UsedCount)

		_, err = repo.IncrementUsage(ctx, "MISSING")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	t.Run("redeem respects cap and order id", func(t *testing.T) {
		got, err := repo.Redeem(ctx, coupon.Redemption{Code: "DEMO20", OrderID: "o-1", RedeemedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, 1, got.UsedCount)

		got, err = repo.Redeem(ctx, coupon.Redemption{Code: "DEMO20", OrderID: "o-1", RedeemedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, 1, got.UsedCount)

		got, err = repo.Redeem(ctx, coupon.Redemption{Code: "DEMO20", OrderID: "o-2", RedeemedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, 2, got.UsedCount)

		_, err = repo.Redeem(ctx, coupon.Redemption{Code: "DEMO20", OrderID: "o-3", RedeemedAt: time.Now()})
		require.ErrorIs(t, err, coupon.ErrUsageExhausted)

		_, err = repo.Redeem(ctx, coupon.Redemption{Code: "MISSING", OrderID: "o-4", RedeemedAt: time.Now()})
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	t.Run("update keeps usage", func(t *testing.T) {
		c, err := repo.FindByCode(ctx, "DEMO20")
		require.NoError(t, err)
		c.Active = false
		c.UsedCount = 0
		c.UpdatedAt = time.Now()
		require.NoError(t, repo.Update(ctx, c))
		assert.Equal(t, 2, c.UsedCount)

		missing := testCoupon("NOPE", coupon.Fixed{Value: decimal.NewFromInt(1)}, "0")
		require.ErrorIs(t, repo.Update(ctx, missing), coupon.ErrNotFound)

		active, err := repo.List(ctx, coupon.ListFilter{ActiveOnly: true, Limit: 10})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "SAVE10", active[0].Code)
	})
}

func TestCouponRepository_ConcurrentRedeem(t *testing.T) {
	pool := startPostgres(t)
	repo := NewCouponRepository(pool)
	ctx := context.Background()

	limited := testCoupon("RUSH", coupon.Fixed{Value: decimal.NewFromInt(5)}, "0")
	limited.MaxUses = intPtrOf(5)
	require.NoError(t, repo.Create(ctx, limited))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Redeem(ctx, coupon.Redemption{
				Code:       "RUSH",
				OrderID:    fmt.Sprintf("order-%d", i),
				RedeemedAt: time.Now(),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	got, err := repo.FindByCode(ctx, "RUSH")
	require.NoError(t, err)
	assert.Equal(t, 5, got.UsedCount)
}

func TestOrderAndHistoryRepositories(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	books := NewBookRepository(pool)
	require.NoError(t, books.Upsert(ctx, &book.Book{
		ID: "b1", Title: "Dune", Author: "Frank Herbert", Price: decimal.RequireFromString("18.99"), Category: "Fiction",
	}))
	got, err := books.GetByIDs(ctx, []string{"b1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, decimal.RequireFromString("18.99").Equal(got[0].Price))
	_, err = books.GetByID(ctx, "missing")
	require.ErrorIs(t, err, book.ErrNotFound)

	orders := NewOrderRepository(pool)
	require.NoError(t, orders.Create(ctx, &order.Order{
		ID:        "o-1",
		Items:     []order.Item{{BookID: "b1", Quantity: 2}},
		Subtotal:  decimal.RequireFromString("37.98"),
		Discount:  decimal.Zero,
		Total:     decimal.RequireFromString("37.98"),
		Customer:  coupon.Customer{UserID: "u1"},
		CreatedAt: time.Now(),
	}))

	history := NewHistoryRepository(pool)
	n, err := history.CountOrders(ctx, coupon.Customer{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = history.CountOrders(ctx, coupon.Customer{GuestEmail: "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	coupons := NewCouponRepository(pool)
	require.NoError(t, coupons.Create(ctx, testCoupon("ONCE", coupon.Fixed{Value: decimal.NewFromInt(1)}, "0")))
	_, err = coupons.Redeem(ctx, coupon.Redemption{
		Code: "ONCE", OrderID: "o-1", Customer: coupon.Customer{UserID: "u1"}, RedeemedAt: time.Now(),
	})
	require.NoError(t, err)
	n, err = history.CountRedemptions(ctx, "ONCE", coupon.Customer{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAPIKeyRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewAPIKeyRepository(pool)
	ctx := context.Background()

	hash := auth.HashKey([]byte("pepper"), "secret")
	require.NoError(t, repo.Create(ctx, &auth.APIKeyInfo{
		ID: "k1", KeyHash: hash, Name: "ops", Scopes: []string{auth.ScopeCouponsAdmin},
	}))

	info, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "ops", info.Name)
	assert.True(t, info.HasScope(auth.ScopeCouponsAdmin))

	_, err = repo.FindByHash(ctx, "unknown")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}
