package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

type couponDoc struct {
	Code           string               `bson:"_id"`
	DiscountType   string               `bson:"discount_type"`
	DiscountAmount primitive.Decimal128 `bson:"discount_amount"`
	Description    string               `bson:"description"`
	MinPurchase    primitive.Decimal128 `bson:"min_purchase_amount"`
	ExpiresAt      time.Time            `bson:"expiration_date"`
	Active         bool                 `bson:"is_active"`
	MaxUses        *int                 `bson:"max_uses"`
	UsedCount      int                  `bson:"used_count"`
	Categories     []string             `bson:"eligible_categories"`
	PerUserLimit   *int                 `bson:"per_user_limit"`
	FirstOrderOnly bool                 `bson:"first_order_only"`
	CreatedAt      time.Time            `bson:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

type redemptionDoc struct {
	OrderID    string    `bson:"_id"`
	Code       string    `bson:"code"`
	UserID     string    `bson:"user_id"`
	GuestEmail string    `bson:"guest_email"`
	RedeemedAt time.Time `bson:"redeemed_at"`
}

var (
	_ coupon.Repository = (*CouponRepository)(nil)

	creationOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	returnAfter   = options.FindOneAndUpdate().SetReturnDocument(options.After)
)

var errAlreadyRedeemed = errors.New("order already redeemed")

// CouponRepository implements coupon.Repository on the coupons collection,
// keyed by the normalized code.
type CouponRepository struct {
	coupons       *mongo.Collection
	redemptions   *mongo.Collection
	transactional bool
}

// CouponOption configures a CouponRepository.
type CouponOption func(*CouponRepository)

// WithTransactions makes Redeem commit the order claim and the usage
// increment in one transaction. Only enable it when Store.Transactions
// reports support.
func WithTransactions(enabled bool) CouponOption {
	return func(r *CouponRepository) { r.transactional = enabled }
}

// NewCouponRepository returns a CouponRepository backed by db.
func NewCouponRepository(db *mongo.Database, opts ...CouponOption) *CouponRepository {
	r := &CouponRepository{
		coupons:     db.Collection(couponsCollection),
		redemptions: db.Collection(redemptionsCollection),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var doc couponDoc
	if err := r.coupons.FindOne(ctx, bson.M{"_id": code}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return doc.toDomain()
}

// ListActive returns the candidates for best-coupon selection in creation order.
func (r *CouponRepository) ListActive(ctx context.Context, now time.Time, total decimal.Decimal) ([]coupon.Coupon, error) {
	filter := bson.M{
		"is_active":           true,
		"expiration_date":     bson.M{"$gte": now},
		"min_purchase_amount": bson.M{"$lte": toDecimal128(total)},
	}
	return r.find(ctx, filter, options.Find().SetSort(creationOrder))
}

// List returns a page of coupons in creation order.
func (r *CouponRepository) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, error) {
	filter := bson.M{}
	if f.ActiveOnly {
		filter["is_active"] = true
	}
	opts := options.Find().
		SetSort(creationOrder).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))
	return r.find(ctx, filter, opts)
}

func (r *CouponRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]coupon.Coupon, error) {
	cur, err := r.coupons.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find coupons")
	}
	var docs []couponDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode coupons")
	}

	out := make([]coupon.Coupon, 0, len(docs))
	for _, doc := range docs {
		c, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// IncrementUsage atomically adds one use and returns the updated record.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.increment(ctx, bson.M{"_id": code})
}

// Redeem records the order id and increments the counter only while it is
// below max_uses. A repeated order id returns the current record.
//
// With transactions both writes commit together. Without them the claim is
// written first and released when the increment fails: a crash between the
// two writes leaves the order claimed but uncounted, and a retry of the same
// order racing a failing first call may report success.
func (r *CouponRepository) Redeem(ctx context.Context, red coupon.Redemption) (*coupon.Coupon, error) {
	var (
		c   *coupon.Coupon
		err error
	)
	if r.transactional {
		c, err = r.redeemInTransaction(ctx, red)
	} else {
		c, err = r.redeemClaimFirst(ctx, red)
	}
	if err != nil {
		return r.redeemFailed(ctx, red.Code, err)
	}
	return c, nil
}

func (r *CouponRepository) redeemInTransaction(ctx context.Context, red coupon.Redemption) (*coupon.Coupon, error) {
	sess, err := r.coupons.Database().Client().StartSession()
	if err != nil {
		return nil, errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if err := r.claim(sc, red); err != nil {
			return nil, err
		}
		return r.incrementBelowCap(sc, red.Code)
	})
	if err != nil {
		return nil, err
	}
	return res.(*coupon.Coupon), nil
}

func (r *CouponRepository) redeemClaimFirst(ctx context.Context, red coupon.Redemption) (*coupon.Coupon, error) {
	if err := r.claim(ctx, red); err != nil {
		return nil, err
	}
	c, err := r.incrementBelowCap(ctx, red.Code)
	if err == nil {
		return c, nil
	}
	if _, delErr := r.redemptions.DeleteOne(ctx, bson.M{"_id": red.OrderID}); delErr != nil {
		return nil, errors.Wrapf(delErr, "release redemption of %q", red.Code)
	}
	return nil, err
}

// claim inserts the redemption keyed by order id.
func (r *CouponRepository) claim(ctx context.Context, red coupon.Redemption) error {
	_, err := r.redemptions.InsertOne(ctx, redemptionDoc{
		OrderID:    red.OrderID,
		Code:       red.Code,
		UserID:     red.Customer.UserID,
		GuestEmail: red.Customer.GuestEmail,
		RedeemedAt: red.RedeemedAt,
	})
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return errAlreadyRedeemed
	default:
		return errors.Wrapf(err, "record redemption of %q", red.Code)
	}
}

func (r *CouponRepository) incrementBelowCap(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.increment(ctx, bson.M{
		"_id": code,
		"$or": bson.A{
			bson.M{"max_uses": nil},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$used_count", "$max_uses"}}},
		},
	})
}

// redeemFailed turns a failed redemption into its result.
func (r *CouponRepository) redeemFailed(ctx context.Context, code string, err error) (*coupon.Coupon, error) {
	switch {
	case errors.Is(err, errAlreadyRedeemed):
		return r.FindByCode(ctx, code)
	case errors.Is(err, coupon.ErrNotFound):
		// The guarded filter matched nothing: either the code is unknown or
		// the cap is reached.
		if _, err := r.FindByCode(ctx, code); err != nil {
			return nil, err
		}
		return nil, coupon.ErrUsageExhausted
	default:
		return nil, err
	}
}

func (r *CouponRepository) increment(ctx context.Context, filter bson.M) (*coupon.Coupon, error) {
	update := bson.M{
		"$inc": bson.M{"used_count": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	var doc couponDoc
	if err := r.coupons.FindOneAndUpdate(ctx, filter, update, returnAfter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "increment usage")
	}
	return doc.toDomain()
}

// Create inserts a new coupon. A taken code yields coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.coupons.InsertOne(ctx, newCouponDoc(c)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	return nil
}

// Upsert inserts a coupon or replaces its definition, keeping the usage counter.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	update := bson.M{
		"$set":         definition(c),
		"$setOnInsert": bson.M{"used_count": c.UsedCount, "created_at": c.CreatedAt},
	}
	if _, err := r.coupons.UpdateByID(ctx, c.Code, update, options.Update().SetUpsert(true)); err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

// Update replaces the definition of an existing coupon. The usage counter
// and creation time are owned by the store and copied back into c.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	var doc couponDoc
	err := r.coupons.FindOneAndUpdate(ctx, bson.M{"_id": c.Code}, bson.M{"$set": definition(c)}, returnAfter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return coupon.ErrNotFound
		}
		return errors.Wrapf(err, "update coupon %q", c.Code)
	}
	c.UsedCount = doc.UsedCount
	c.CreatedAt = doc.CreatedAt
	return nil
}

// definition returns the fields an update may replace.
func definition(c *coupon.Coupon) bson.M {
	doc := newCouponDoc(c)
	return bson.M{
		"discount_type":       doc.DiscountType,
		"discount_amount":     doc.DiscountAmount,
		"description":         doc.Description,
		"min_purchase_amount": doc.MinPurchase,
		"expiration_date":     doc.ExpiresAt,
		"is_active":           doc.Active,
		"max_uses":            doc.MaxUses,
		"eligible_categories": doc.Categories,
		"per_user_limit":      doc.PerUserLimit,
		"first_order_only":    doc.FirstOrderOnly,
		"updated_at":          doc.UpdatedAt,
	}
}

func newCouponDoc(c *coupon.Coupon) couponDoc {
	categories := c.Categories
	if categories == nil {
		categories = []string{}
	}
	return couponDoc{
		Code:           c.Code,
		DiscountType:   string(c.Discount.Kind()),
		DiscountAmount: toDecimal128(c.Discount.Amount()),
		Description:    c.Description,
		MinPurchase:    toDecimal128(c.MinPurchase),
		ExpiresAt:      c.ExpiresAt.UTC(),
		Active:         c.Active,
		MaxUses:        c.MaxUses,
		UsedCount:      c.UsedCount,
		Categories:     categories,
		PerUserLimit:   c.PerUserLimit,
		FirstOrderOnly: c.FirstOrderOnly,
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
}

func (d couponDoc) toDomain() (*coupon.Coupon, error) {
	amount, err := fromDecimal128(d.DiscountAmount)
	if err != nil {
		return nil, errors.Wrapf(err, "coupon %q amount", d.Code)
	}
	minPurchase, err := fromDecimal128(d.MinPurchase)
	if err != nil {
		return nil, errors.Wrapf(err, "coupon %q minimum", d.Code)
	}
	discount, err := coupon.NewDiscount(coupon.Kind(d.DiscountType), amount)
	if err != nil {
		return nil, errors.Wrapf(err, "coupon %q", d.Code)
	}
	return &coupon.Coupon{
		Code:           d.Code,
		Discount:       discount,
		Description:    d.Description,
		MinPurchase:    minPurchase,
		ExpiresAt:      d.ExpiresAt,
		Active:         d.Active,
		MaxUses:        d.MaxUses,
		UsedCount:      d.UsedCount,
		Categories:     d.Categories,
		PerUserLimit:   d.PerUserLimit,
		FirstOrderOnly: d.FirstOrderOnly,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}
