package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestDiscount_Apply(t *testing.T) {
	tests := []struct {
		name     string
		discount Discount
		total    decimal.Decimal
		want     decimal.Decimal
	}{
		{
			name:     "percentage 20% of 1000",
			discount: Percentage{Value: d("20")},
			total:    d("1000"),
			want:     d("200.00"),
		},
		{
			name:     "percentage above 100 is capped",
			discount: Percentage{Value: d("150")},
			total:    d("80"),
			want:     d("80"),
		},
		{
			name:     "percentage rounds half up",
			discount: Percentage{Value: d("15")},
			total:    d("29.97"),
			// 4.4955 -> 4.50
			want: d("4.50"),
		},
		{
			name:     "percentage with fractional rate",
			discount: Percentage{Value: d("33.33")},
			total:    d("10.01"),
			// 3.336333 -> 3.34
			want: d("3.34"),
		},
		{
			name:     "percentage of zero total",
			discount: Percentage{Value: d("50")},
			total:    decimal.Zero,
			want:     decimal.Zero,
		},
		{
			name:     "fixed below total",
			discount: Fixed{Value: d("10")},
			total:    d("100"),
			want:     d("10"),
		},
		{
			name:     "fixed capped at total",
			discount: Fixed{Value: d("200")},
			total:    d("49.99"),
			want:     d("49.99"),
		},
		{
			name:     "fixed equal to total",
			discount: Fixed{Value: d("25")},
			total:    d("25"),
			want:     d("25"),
		},
		{
			name:     "fixed capped at sub-cent total",
			discount: Fixed{Value: d("100")},
			total:    d("10.005"),
			want:     d("10.005"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.discount.Apply(tt.total)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
			assert.False(t, got.IsNegative())
			assert.True(t, got.LessThanOrEqual(tt.total))
		})
	}
}

func TestNewDiscount(t *testing.T) {
	p, err := NewDiscount(KindPercentage, d("20"))
	require.NoError(t, err)
	assert.Equal(t, KindPercentage, p.Kind())
	assert.True(t, d("20").Equal(p.Amount()))

	f, err := NewDiscount(KindFixed, d("10"))
	require.NoError(t, err)
	assert.Equal(t, KindFixed, f.Kind())

	_, err = NewDiscount("BOGO", d("1"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "discountType", verr.Field)

	_, err = NewDiscount(KindFixed, d("-1"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "discountAmount", verr.Field)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" percentage ")
	require.True(t, ok)
	assert.Equal(t, KindPercentage, k)

	k, ok = ParseKind("Fixed")
	require.True(t, ok)
	assert.Equal(t, KindFixed, k)

	_, ok = ParseKind("free_lowest")
	assert.False(t, ok)
}

func TestMatchesCategories(t *testing.T) {
	items := []CartItem{
		{BookID: "b1", Category: "Fiction"},
		{BookID: "b2", Category: "History"},
	}

	assert.True(t, MatchesCategories(nil, items))
	assert.True(t, MatchesCategories(nil, nil))
	assert.True(t, MatchesCategories([]string{"fiction"}, items))
	assert.True(t, MatchesCategories([]string{" Science ", "HISTORY"}, items))
	assert.False(t, MatchesCategories([]string{"Science"}, items))
	assert.False(t, MatchesCategories([]string{"Fiction"}, nil))
}
