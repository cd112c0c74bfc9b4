package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

const (
	countCustomerOrdersSQL = `SELECT count(*) FROM orders
		WHERE ($1 <> '' AND user_id = $1) OR ($2 <> '' AND guest_email = $2)`

	countCustomerRedemptionsSQL = `SELECT count(*) FROM coupon_redemptions
		WHERE code = $1 AND (($2 <> '' AND user_id = $2) OR ($3 <> '' AND guest_email = $3))`
)

var _ coupon.History = (*HistoryRepository)(nil)

// HistoryRepository answers per-customer questions from orders and redemptions.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// CountOrders returns how many orders the customer has placed.
func (r *HistoryRepository) CountOrders(ctx context.Context, c coupon.Customer) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCustomerOrdersSQL, c.UserID, c.GuestEmail).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return n, nil
}

// CountRedemptions returns how many times the customer redeemed code.
func (r *HistoryRepository) CountRedemptions(ctx context.Context, code string, c coupon.Customer) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCustomerRedemptionsSQL, code, c.UserID, c.GuestEmail).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count redemptions of %q", code)
	}
	return n, nil
}
