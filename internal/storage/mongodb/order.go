package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
	"github.com/xenking/bookstore-coupons/internal/domain/order"
)

type orderDoc struct {
	ID         string               `bson:"_id"`
	Items      []order.Item         `bson:"items"`
	Subtotal   primitive.Decimal128 `bson:"subtotal"`
	Discount   primitive.Decimal128 `bson:"discount"`
	Total      primitive.Decimal128 `bson:"total"`
	CouponCode string               `bson:"coupon_code"`
	UserID     string               `bson:"user_id"`
	GuestEmail string               `bson:"guest_email"`
	CreatedAt  time.Time            `bson:"created_at"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on the orders collection.
type OrderRepository struct {
	orders *mongo.Collection
}

// NewOrderRepository returns an OrderRepository backed by db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{orders: db.Collection(ordersCollection)}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.orders.InsertOne(ctx, orderDoc{
		ID:         o.ID,
		Items:      o.Items,
		Subtotal:   toDecimal128(o.Subtotal),
		Discount:   toDecimal128(o.Discount),
		Total:      toDecimal128(o.Total),
		CouponCode: o.CouponCode,
		UserID:     o.Customer.UserID,
		GuestEmail: o.Customer.GuestEmail,
		CreatedAt:  o.CreatedAt.UTC(),
	})
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

var _ coupon.History = (*HistoryRepository)(nil)

// HistoryRepository answers per-customer questions from orders and redemptions.
type HistoryRepository struct {
	orders      *mongo.Collection
	redemptions *mongo.Collection
}

// NewHistoryRepository returns a HistoryRepository backed by db.
func NewHistoryRepository(db *mongo.Database) *HistoryRepository {
	return &HistoryRepository{
		orders:      db.Collection(ordersCollection),
		redemptions: db.Collection(redemptionsCollection),
	}
}

// CountOrders returns how many orders the customer has placed.
func (r *HistoryRepository) CountOrders(ctx context.Context, c coupon.Customer) (int, error) {
	match := customerFilter(c)
	if match == nil {
		return 0, nil
	}
	n, err := r.orders.CountDocuments(ctx, bson.M{"$or": match})
	if err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return int(n), nil
}

// CountRedemptions returns how many times the customer redeemed code.
func (r *HistoryRepository) CountRedemptions(ctx context.Context, code string, c coupon.Customer) (int, error) {
	match := customerFilter(c)
	if match == nil {
		return 0, nil
	}
	n, err := r.redemptions.CountDocuments(ctx, bson.M{"code": code, "$or": match})
	if err != nil {
		return 0, errors.Wrapf(err, "count redemptions of %q", code)
	}
	return int(n), nil
}

// customerFilter matches on whichever identity fields are set.
func customerFilter(c coupon.Customer) bson.A {
	var match bson.A
	if c.UserID != "" {
		match = append(match, bson.M{"user_id": c.UserID})
	}
	if c.GuestEmail != "" {
		match = append(match, bson.M{"guest_email": c.GuestEmail})
	}
	return match
}
