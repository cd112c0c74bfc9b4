package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind names a discount variant as stored and exposed over the API.
type Kind string

const (
	// KindPercentage takes a share of the cart total, capped at 100%.
	KindPercentage Kind = "PERCENTAGE"
	// KindFixed takes a flat amount, capped at the cart total.
	KindFixed Kind = "FIXED"
)

var hundred = decimal.NewFromInt(100)

// Discount is the closed set of discount variants. Each variant owns its cap
// rule; the result of Apply always lies within [0, total].
type Discount interface {
	Kind() Kind
	Amount() decimal.Decimal
	Apply(total decimal.Decimal) decimal.Decimal

	sealed()
}

// Percentage reduces the total by Value percent.
type Percentage struct {
	Value decimal.Decimal
}

func (Percentage) Kind() Kind                { return KindPercentage }
func (p Percentage) Amount() decimal.Decimal { return p.Value }
func (Percentage) sealed()                   {}

// Apply returns total * min(Value, 100) / 100 rounded to cents.
func (p Percentage) Apply(total decimal.Decimal) decimal.Decimal {
	rate := decimal.Min(p.Value, hundred)
	return clamp(total.Mul(rate).Div(hundred).Round(2), total)
}

// Fixed reduces the total by a flat Value.
type Fixed struct {
	Value decimal.Decimal
}

func (Fixed) Kind() Kind                { return KindFixed }
func (f Fixed) Amount() decimal.Decimal { return f.Value }
func (Fixed) sealed()                   {}

// Apply returns min(Value, total) rounded to cents.
func (f Fixed) Apply(total decimal.Decimal) decimal.Decimal {
	return clamp(decimal.Min(f.Value, total).Round(2), total)
}

// NewDiscount builds the variant for a stored kind and amount.
func NewDiscount(kind Kind, amount decimal.Decimal) (Discount, error) {
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "discountAmount", Reason: "must not be negative"}
	}
	switch kind {
	case KindPercentage:
		return Percentage{Value: amount}, nil
	case KindFixed:
		return Fixed{Value: amount}, nil
	default:
		return nil, errors.Wrapf(&ValidationError{Field: "discountType", Reason: "unsupported"}, "kind %q", kind)
	}
}

// ParseKind accepts any letter case.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(NormalizeCode(s)); k {
	case KindPercentage, KindFixed:
		return k, true
	default:
		return "", false
	}
}

// clamp keeps a computed discount within [0, total]. Rounding a total with
// sub-cent precision can otherwise push the discount above it.
func clamp(d, total decimal.Decimal) decimal.Decimal {
	if d.IsNegative() || total.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(total) {
		return total
	}
	return d
}
