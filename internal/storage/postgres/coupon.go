package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

const couponColumns = `code, discount_type, discount_amount, description, min_purchase_amount,
	expiration_date, is_active, max_uses, used_count, eligible_categories, per_user_limit,
	first_order_only, created_at, updated_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE is_active AND expiration_date >= $1 AND min_purchase_amount <= $2
		ORDER BY created_at, code`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE (NOT $1 OR is_active)
		ORDER BY created_at, code
		LIMIT $2 OFFSET $3`

	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE code = $1
		RETURNING ` + couponColumns

	redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE code = $1 AND (max_uses IS NULL OR used_count < max_uses)
		RETURNING ` + couponColumns

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (order_id, code, user_id, guest_email, redeemed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`

	createCouponSQL = `INSERT INTO coupons (code, discount_type, discount_amount, description,
		min_purchase_amount, expiration_date, is_active, max_uses, used_count, eligible_categories,
		per_user_limit, first_order_only, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	upsertCouponSQL = createCouponSQL + `
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_amount = EXCLUDED.discount_amount,
			description = EXCLUDED.description,
			min_purchase_amount = EXCLUDED.min_purchase_amount,
			expiration_date = EXCLUDED.expiration_date,
			is_active = EXCLUDED.is_active,
			max_uses = EXCLUDED.max_uses,
			eligible_categories = EXCLUDED.eligible_categories,
			per_user_limit = EXCLUDED.per_user_limit,
			first_order_only = EXCLUDED.first_order_only,
			updated_at = EXCLUDED.updated_at`

	updateCouponSQL = `UPDATE coupons SET
		discount_type = $2, discount_amount = $3, description = $4, min_purchase_amount = $5,
		expiration_date = $6, is_active = $7, max_uses = $8, eligible_categories = $9,
		per_user_limit = $10, first_order_only = $11, updated_at = $12
		WHERE code = $1
		RETURNING used_count, created_at`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return collectCoupon(rows, code)
}

// ListActive returns the candidates for best-coupon selection in creation order.
func (r *CouponRepository) ListActive(ctx context.Context, now time.Time, total decimal.Decimal) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL, now, total)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// List returns a page of coupons in creation order.
func (r *CouponRepository) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL, f.ActiveOnly, f.Limit, f.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// IncrementUsage atomically adds one use and returns the updated record.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, incrementCouponUsageSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "increment usage of %q", code)
	}
	return collectCoupon(rows, code)
}

// Redeem records the redemption and increments the usage counter in one
// transaction. The counter is only moved while below max_uses, and a
// repeated order id leaves both untouched.
func (r *CouponRepository) Redeem(ctx context.Context, red coupon.Redemption) (*coupon.Coupon, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin redeem")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, insertRedemptionSQL,
		red.OrderID, red.Code, red.Customer.UserID, red.Customer.GuestEmail, red.RedeemedAt,
	)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "record redemption of %q", red.Code)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return r.FindByCode(ctx, red.Code)
	}

	rows, err := tx.Query(ctx, redeemCouponSQL, red.Code)
	if err != nil {
		return nil, errors.Wrapf(err, "redeem %q", red.Code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The redemption insert proved the coupon exists, so the guard failed.
			return nil, coupon.ErrUsageExhausted
		}
		return nil, errors.Wrapf(err, "redeem %q", red.Code)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit redeem")
	}
	return &c, nil
}

// Create inserts a new coupon. A taken code yields coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL, couponArgs(c)...)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	return nil
}

// Upsert inserts a coupon or replaces its definition, keeping the usage counter.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.pool.Exec(ctx, upsertCouponSQL, couponArgs(c)...); err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

// Update replaces the definition of an existing coupon. The usage counter
// and creation time are owned by the store and copied back into c.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	err := r.pool.QueryRow(ctx, updateCouponSQL,
		c.Code, string(c.Discount.Kind()), c.Discount.Amount(), c.Description, c.MinPurchase,
		c.ExpiresAt, c.Active, c.MaxUses, categories(c.Categories), c.PerUserLimit, c.FirstOrderOnly,
		c.UpdatedAt,
	).Scan(&c.UsedCount, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		return errors.Wrapf(err, "update coupon %q", c.Code)
	}
	return nil
}

func couponArgs(c *coupon.Coupon) []any {
	return []any{
		c.Code, string(c.Discount.Kind()), c.Discount.Amount(), c.Description, c.MinPurchase,
		c.ExpiresAt, c.Active, c.MaxUses, c.UsedCount, categories(c.Categories), c.PerUserLimit,
		c.FirstOrderOnly, c.CreatedAt, c.UpdatedAt,
	}
}

// categories keeps NOT NULL text[] columns from receiving a nil slice.
func categories(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}

func collectCoupon(rows pgx.Rows, code string) (*coupon.Coupon, error) {
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan coupon %q", code)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		amount       decimal.Decimal
		maxUses      *int32
		usedCount    int32
		perUserLimit *int32
	)
	if err := row.Scan(
		&c.Code, &discountType, &amount, &c.Description, &c.MinPurchase,
		&c.ExpiresAt, &c.Active, &maxUses, &usedCount, &c.Categories, &perUserLimit,
		&c.FirstOrderOnly, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return c, err
	}

	d, err := coupon.NewDiscount(coupon.Kind(discountType), amount)
	if err != nil {
		return c, errors.Wrapf(err, "coupon %q", c.Code)
	}
	c.Discount = d
	c.MaxUses = intPtr(maxUses)
	c.UsedCount = int(usedCount)
	c.PerUserLimit = intPtr(perUserLimit)
	return c, nil
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
