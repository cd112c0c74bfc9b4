package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-coupons/internal/domain/book"
	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems = errors.New("items required")
)

// BookNotFoundError indicates a requested book does not exist.
type BookNotFoundError struct {
	BookID string
}

func (e *BookNotFoundError) Error() string {
	return fmt.Sprintf("book %s not found", e.BookID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	BookID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for book %s", e.BookID)
}

// Coupons is the part of the coupon resolver checkout depends on.
type Coupons interface {
	coupon.Validator
	coupon.Redeemer
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items      []Item
	CouponCode string
	Customer   coupon.Customer
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *Order
	Books []book.Book
	// Coupon is the applied coupon as recorded after redemption, or as quoted
	// when the redemption did not go through.
	Coupon *coupon.Coupon
	// Redeemed is false when a coupon was applied but its use could not be
	// recorded, for example because a concurrent order took the last use.
	Redeemed bool
}

// Service encapsulates order placement business logic.
type Service struct {
	books   book.Repository
	coupons Coupons
	orders  Repository
	now     func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(books book.Repository, coupons Coupons, orders Repository) *Service {
	return &Service{
		books:   books,
		coupons: coupons,
		orders:  orders,
		now:     time.Now,
	}
}

// PlaceOrder prices the cart from the catalog, applies the coupon, persists
// the order and then records the coupon use against it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{BookID: item.BookID}
		}
		ids[i] = item.BookID
	}

	fetched, err := s.books.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get books")
	}
	byID := make(map[string]book.Book, len(fetched))
	for _, b := range fetched {
		byID[b.ID] = b
	}

	books := make([]book.Book, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, item := range req.Items {
		b, ok := byID[item.BookID]
		if !ok {
			return nil, &BookNotFoundError{BookID: item.BookID}
		}
		books = append(books, b)
		subtotal = subtotal.Add(b.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	subtotal = subtotal.Round(2)

	var quote *coupon.Quote
	discount := decimal.Zero
	if code := coupon.NormalizeCode(req.CouponCode); code != "" {
		quote, err = s.coupons.Validate(ctx, code, subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		discount = quote.Amount.Round(2)
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:        uuid.New().String(),
		Items:     req.Items,
		Subtotal:  subtotal,
		Discount:  discount,
		Total:     total.Round(2),
		Customer:  req.Customer.Normalized(),
		CreatedAt: s.now(),
	}
	if quote != nil {
		o.CouponCode = quote.Coupon.Code
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	result := &PlaceOrderResult{Order: o, Books: books}
	if quote == nil {
		return result, nil
	}

	result.Coupon = quote.Coupon
	redeemed, err := s.coupons.Redeem(ctx, coupon.Redemption{
		Code:       o.CouponCode,
		OrderID:    o.ID,
		Customer:   o.Customer,
		RedeemedAt: o.CreatedAt,
	})
	switch {
	case err == nil:
		result.Coupon = redeemed
		result.Redeemed = true
	case errors.Is(err, coupon.ErrUsageExhausted):
		zctx.From(ctx).Warn("Coupon ran out of uses after validation",
			zap.String("coupon", o.CouponCode),
			zap.String("order_id", o.ID),
		)
	default:
		zctx.From(ctx).Error("Redeem coupon",
			zap.String("coupon", o.CouponCode),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	return result, nil
}
