package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCode is returned when no coupon matches the normalized code.
	ErrInvalidCode = errors.New("invalid coupon code")
	// ErrInactive is returned when the coupon exists but is switched off.
	ErrInactive = errors.New("coupon is not active")
	// ErrExpired is returned when the coupon expiration date has passed.
	ErrExpired = errors.New("coupon has expired")
	// ErrBelowMinimum is matched by *BelowMinimumError.
	ErrBelowMinimum = errors.New("cart total below coupon minimum")
	// ErrUsageExhausted is returned when a capped coupon has no uses left.
	ErrUsageExhausted = errors.New("coupon usage limit reached")

	// ErrNegativeTotal is returned for a cart total below zero.
	ErrNegativeTotal = errors.New("cart total must not be negative")
	// ErrNotFound is returned by repositories when no coupon has the code.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when creating a coupon whose code is taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// BelowMinimumError reports the minimum purchase amount a cart failed to reach.
type BelowMinimumError struct {
	Required decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("minimum purchase amount of %s required", e.Required.StringFixed(2))
}

// Is reports ErrBelowMinimum as the sentinel for this error.
func (e *BelowMinimumError) Is(target error) bool {
	return target == ErrBelowMinimum
}

// ValidationError describes a coupon definition rejected by Create or Update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Coupon is a named discount offer with its eligibility constraints.
type Coupon struct {
	Code           string
	Discount       Discount
	Description    string
	MinPurchase    decimal.Decimal
	ExpiresAt      time.Time
	Active         bool
	MaxUses        *int
	UsedCount      int
	Categories     []string
	PerUserLimit   *int
	FirstOrderOnly bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether a capped coupon has used up all its redemptions.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// Expired reports whether the coupon is past its expiration at now.
func (c *Coupon) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Quote is the outcome of a successful validation: the discount a coupon
// yields on a cart total.
type Quote struct {
	Amount decimal.Decimal
	Coupon *Coupon
}

// CartItem is a line item considered for category eligibility.
type CartItem struct {
	BookID   string
	Title    string
	Price    decimal.Decimal
	Quantity int
	Category string
}

// Customer identifies who is shopping. Either field may be empty.
type Customer struct {
	UserID     string
	GuestEmail string
}

// Anonymous reports whether neither a user id nor a guest email is known.
func (c Customer) Anonymous() bool {
	return c.UserID == "" && c.GuestEmail == ""
}

// Normalized returns the customer with trimmed fields and a lower-cased email.
func (c Customer) Normalized() Customer {
	return Customer{
		UserID:     strings.TrimSpace(c.UserID),
		GuestEmail: strings.ToLower(strings.TrimSpace(c.GuestEmail)),
	}
}

// Redemption records one confirmed use of a coupon by an order.
type Redemption struct {
	Code       string
	OrderID    string
	Customer   Customer
	RedeemedAt time.Time
}

// ListFilter narrows the admin coupon listing.
type ListFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Repository is the coupon record store.
type Repository interface {
	// FindByCode returns ErrNotFound when no coupon has the normalized code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// ListActive returns active, unexpired coupons whose minimum purchase is
	// at most total, in a stable order.
	ListActive(ctx context.Context, now time.Time, total decimal.Decimal) ([]Coupon, error)
	// IncrementUsage adds one use unconditionally and returns the new record.
	IncrementUsage(ctx context.Context, code string) (*Coupon, error)
	// Redeem adds one use only while under the cap, at most once per order.
	// It returns ErrUsageExhausted when the cap is reached.
	Redeem(ctx context.Context, r Redemption) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	List(ctx context.Context, f ListFilter) ([]Coupon, error)
}

// History answers per-customer questions needed by restricted coupons.
type History interface {
	CountOrders(ctx context.Context, customer Customer) (int, error)
	CountRedemptions(ctx context.Context, code string, customer Customer) (int, error)
}

// NormalizeCode trims surrounding whitespace and upper-cases the code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
