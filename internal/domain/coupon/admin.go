package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-coupons/internal/couponcode"
)

const (
	maxGenerateCount   = 1000
	defaultCodeLength  = 8
	maxGenerateRetries = 3

	// moneyPlaces is the scale amounts are stored with.
	moneyPlaces = 2
)

// GenerateRequest asks for Count new coupons copied from Template, each with
// a random code.
type GenerateRequest struct {
	Count    int
	Prefix   string
	Length   int
	Template Coupon
}

// Manager creates and edits coupon definitions.
type Manager struct {
	repo Repository
	now  func() time.Time
}

// NewManager creates a Manager backed by the given Repository.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, now: time.Now}
}

// Get returns the coupon with the given code or ErrNotFound.
func (m *Manager) Get(ctx context.Context, code string) (*Coupon, error) {
	c, err := m.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	return c, nil
}

// List returns coupons ordered by creation time.
func (m *Manager) List(ctx context.Context, f ListFilter) ([]Coupon, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	list, err := m.repo.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return list, nil
}

// Create validates and stores a new coupon. The usage counter starts at zero.
func (m *Manager) Create(ctx context.Context, c *Coupon) error {
	if err := Prepare(c); err != nil {
		return err
	}
	now := m.now()
	c.UsedCount = 0
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := m.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return ErrDuplicateCode
		}
		return errors.Wrap(err, "create coupon")
	}
	return nil
}

// Update replaces the editable fields of an existing coupon.
func (m *Manager) Update(ctx context.Context, c *Coupon) error {
	if err := Prepare(c); err != nil {
		return err
	}
	c.UpdatedAt = m.now()

	if err := m.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "update coupon")
	}
	return nil
}

// Generate creates req.Count coupons with random codes.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) ([]Coupon, error) {
	if req.Count < 1 || req.Count > maxGenerateCount {
		return nil, &ValidationError{Field: "count", Reason: "must be between 1 and 1000"}
	}
	if req.Length == 0 {
		req.Length = defaultCodeLength
	}
	gen, err := couponcode.New(NormalizeCode(req.Prefix), req.Length, uint(req.Count)*4)
	if err != nil {
		return nil, &ValidationError{Field: "length", Reason: err.Error()}
	}

	out := make([]Coupon, 0, req.Count)
	for range req.Count {
		c, err := m.createGenerated(ctx, gen, req.Template)
		if err != nil {
			return out, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *Manager) createGenerated(ctx context.Context, gen *couponcode.Generator, tmpl Coupon) (*Coupon, error) {
	for range maxGenerateRetries {
		code, err := gen.Next()
		if err != nil {
			return nil, errors.Wrap(err, "next code")
		}
		c := tmpl
		c.Code = code
		c.Categories = append([]string(nil), tmpl.Categories...)

		err = m.Create(ctx, &c)
		switch {
		case err == nil:
			return &c, nil
		case errors.Is(err, ErrDuplicateCode):
			continue
		default:
			return nil, err
		}
	}
	return nil, errors.Wrap(couponcode.ErrExhausted, "generate coupon")
}

// Prepare normalizes a coupon definition and checks its fields. Create and
// Update call it; bulk loaders that upsert directly must call it themselves.
func Prepare(c *Coupon) error {
	c.Code = NormalizeCode(c.Code)
	if c.Code == "" {
		return &ValidationError{Field: "code", Reason: "required"}
	}
	if strings.ContainsFunc(c.Code, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	}) {
		return &ValidationError{Field: "code", Reason: "only letters, digits, '-' and '_' are allowed"}
	}
	if c.Discount == nil {
		return &ValidationError{Field: "discountType", Reason: "required"}
	}
	if c.Discount.Amount().IsNegative() {
		return &ValidationError{Field: "discountAmount", Reason: "must not be negative"}
	}
	if !fitsScale(c.Discount.Amount()) {
		return &ValidationError{Field: "discountAmount", Reason: "at most 2 decimal places"}
	}
	if c.MinPurchase.IsNegative() {
		return &ValidationError{Field: "minPurchaseAmount", Reason: "must not be negative"}
	}
	if !fitsScale(c.MinPurchase) {
		return &ValidationError{Field: "minPurchaseAmount", Reason: "at most 2 decimal places"}
	}
	if c.ExpiresAt.IsZero() {
		return &ValidationError{Field: "expirationDate", Reason: "required"}
	}
	if c.MaxUses != nil && *c.MaxUses < 0 {
		return &ValidationError{Field: "maxUses", Reason: "must not be negative"}
	}
	if c.PerUserLimit != nil && *c.PerUserLimit < 1 {
		return &ValidationError{Field: "perUserLimit", Reason: "must be at least 1"}
	}
	if c.UsedCount < 0 {
		return &ValidationError{Field: "usedCount", Reason: "must not be negative"}
	}

	categories := c.Categories[:0]
	for _, cat := range c.Categories {
		if cat = strings.TrimSpace(cat); cat != "" {
			categories = append(categories, cat)
		}
	}
	c.Categories = categories
	return nil
}

// fitsScale reports whether v survives storage at moneyPlaces unchanged.
// Trailing zeros beyond the scale are fine.
func fitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Round(moneyPlaces))
}
