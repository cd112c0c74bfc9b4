package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

// Order is a placed customer order with its pricing breakdown.
type Order struct {
	ID         string
	Items      []Item
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	CouponCode string
	Customer   coupon.Customer
	CreatedAt  time.Time
}

// Item is a single line of an order.
type Item struct {
	BookID   string `json:"book_id" bson:"book_id"`
	Quantity int    `json:"quantity" bson:"quantity"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}
