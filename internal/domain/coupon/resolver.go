package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xenking/bookstore-coupons/internal/domain/coupon"

// Validator validates a coupon code against a cart total.
type Validator interface {
	Validate(ctx context.Context, code string, total decimal.Decimal) (*Quote, error)
}

// Redeemer records a confirmed coupon use for an order.
type Redeemer interface {
	Redeem(ctx context.Context, r Redemption) (*Coupon, error)
}

// BestRequest is the input of FindBest.
type BestRequest struct {
	CartTotal  decimal.Decimal
	UserID     string
	GuestEmail string
	Items      []CartItem
}

// Customer returns the shopper identity carried by the request.
func (r BestRequest) Customer() Customer {
	return Customer{UserID: r.UserID, GuestEmail: r.GuestEmail}.Normalized()
}

// Resolver decides whether coupons apply to a cart and what they are worth.
// Every call reads the store afresh; atomicity of usage updates is left to
// the Repository.
type Resolver struct {
	repo    Repository
	history History
	now     func() time.Time

	tracer      trace.Tracer
	validations metric.Int64Counter
	redemptions metric.Int64Counter
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHistory enables first-order and per-customer restrictions in FindBest.
// Without it, restricted coupons are never selected.
func WithHistory(h History) Option {
	return func(r *Resolver) { r.history = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithTracerProvider sets the provider used for per-operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Resolver) { r.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the provider used for outcome counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Resolver) { r.initMetrics(mp) }
}

// NewResolver creates a Resolver backed by the given Repository.
func NewResolver(repo Repository, opts ...Option) *Resolver {
	r := &Resolver{
		repo:   repo,
		now:    time.Now,
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	r.initMetrics(metricnoop.NewMeterProvider())
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) initMetrics(mp metric.MeterProvider) {
	meter := mp.Meter(instrumentationName)
	// Counter creation only fails on invalid instrument names.
	r.validations, _ = meter.Int64Counter("coupon.validations",
		metric.WithDescription("Coupon validations by outcome"))
	r.redemptions, _ = meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Coupon usage increments by outcome"))
}

// Validate checks the coupon rules in a fixed order and computes the
// discount. It has no side effects.
func (r *Resolver) Validate(ctx context.Context, code string, total decimal.Decimal) (*Quote, error) {
	code = NormalizeCode(code)
	ctx, span := r.tracer.Start(ctx, "coupon.Validate", trace.WithAttributes(
		attribute.String("coupon.code", code),
		attribute.String("cart.total", total.String()),
	))
	defer span.End()

	q, err := r.validate(ctx, code, total)
	r.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", outcome(err))))
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("coupon.discount", q.Amount.String()))
	return q, nil
}

func (r *Resolver) validate(ctx context.Context, code string, total decimal.Decimal) (*Quote, error) {
	if total.IsNegative() {
		return nil, ErrNegativeTotal
	}
	if code == "" {
		return nil, ErrInvalidCode
	}

	c, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := checkRules(c, total, r.now()); err != nil {
		return nil, err
	}
	return &Quote{Amount: c.Discount.Apply(total), Coupon: c}, nil
}

// checkRules applies the eligibility rules in their fixed order.
func checkRules(c *Coupon, total decimal.Decimal, now time.Time) error {
	switch {
	case !c.Active:
		return ErrInactive
	case c.Expired(now):
		return ErrExpired
	case total.LessThan(c.MinPurchase):
		return &BelowMinimumError{Required: c.MinPurchase}
	case c.Exhausted():
		return ErrUsageExhausted
	case c.Discount == nil:
		return errors.Errorf("coupon %s has no discount", c.Code)
	}
	return nil
}

// IsValid reports whether Validate would succeed. It never fails.
func (r *Resolver) IsValid(ctx context.Context, code string, total decimal.Decimal) bool {
	_, err := r.Validate(ctx, code, total)
	return err == nil
}

// IncrementUsage adds one use to the coupon without any cap or idempotency
// check. Callers must invoke it at most once per confirmed order.
func (r *Resolver) IncrementUsage(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	ctx, span := r.tracer.Start(ctx, "coupon.IncrementUsage", trace.WithAttributes(
		attribute.String("coupon.code", code),
	))
	defer span.End()

	c, err := r.repo.IncrementUsage(ctx, code)
	r.redemptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", "increment"),
		attribute.String("result", outcome(err)),
	))
	if err != nil {
		recordError(span, err)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "increment usage")
	}
	return c, nil
}

// Redeem adds one use to the coupon for an order. The store refuses the
// update once the cap is reached and ignores repeated calls for the same
// order, so a coupon can be validated many times but counted once.
func (r *Resolver) Redeem(ctx context.Context, red Redemption) (*Coupon, error) {
	red.Code = NormalizeCode(red.Code)
	red.OrderID = strings.TrimSpace(red.OrderID)
	red.Customer = red.Customer.Normalized()
	if red.RedeemedAt.IsZero() {
		red.RedeemedAt = r.now()
	}

	ctx, span := r.tracer.Start(ctx, "coupon.Redeem", trace.WithAttributes(
		attribute.String("coupon.code", red.Code),
		attribute.String("order.id", red.OrderID),
	))
	defer span.End()

	c, err := r.redeem(ctx, red)
	r.redemptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", "redeem"),
		attribute.String("result", outcome(err)),
	))
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return c, nil
}

func (r *Resolver) redeem(ctx context.Context, red Redemption) (*Coupon, error) {
	if red.Code == "" {
		return nil, ErrInvalidCode
	}
	if red.OrderID == "" {
		return nil, &ValidationError{Field: "orderId", Reason: "required"}
	}

	c, err := r.repo.Redeem(ctx, red)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, ErrNotFound):
		return nil, ErrInvalidCode
	case errors.Is(err, ErrUsageExhausted):
		return nil, ErrUsageExhausted
	default:
		return nil, errors.Wrap(err, "redeem coupon")
	}
}

// FindBest evaluates every active coupon for the cart and returns the one
// with the largest positive discount. Ties keep the first coupon in store
// order. A nil Quote with a nil error means no coupon applies.
func (r *Resolver) FindBest(ctx context.Context, req BestRequest) (*Quote, error) {
	ctx, span := r.tracer.Start(ctx, "coupon.FindBest", trace.WithAttributes(
		attribute.String("cart.total", req.CartTotal.String()),
		attribute.Int("cart.items", len(req.Items)),
	))
	defer span.End()

	best, err := r.findBest(ctx, req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if best != nil {
		span.SetAttributes(
			attribute.String("coupon.code", best.Coupon.Code),
			attribute.String("coupon.discount", best.Amount.String()),
		)
	}
	return best, nil
}

func (r *Resolver) findBest(ctx context.Context, req BestRequest) (*Quote, error) {
	if req.CartTotal.IsNegative() {
		return nil, ErrNegativeTotal
	}

	now := r.now()
	candidates, err := r.repo.ListActive(ctx, now, req.CartTotal)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}

	customer := req.Customer()
	var best *Quote
	for i := range candidates {
		c := &candidates[i]
		if checkRules(c, req.CartTotal, now) != nil {
			continue
		}
		if !MatchesCategories(c.Categories, req.Items) {
			continue
		}
		// A coupon worth nothing is not a saving to offer.
		amount := c.Discount.Apply(req.CartTotal)
		if !amount.IsPositive() {
			continue
		}
		ok, err := r.eligibleFor(ctx, c, customer)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if best == nil || amount.GreaterThan(best.Amount) {
			best = &Quote{Amount: amount, Coupon: c}
		}
	}
	return best, nil
}

// eligibleFor applies the first-order and per-customer restrictions.
func (r *Resolver) eligibleFor(ctx context.Context, c *Coupon, customer Customer) (bool, error) {
	if !c.FirstOrderOnly && c.PerUserLimit == nil {
		return true, nil
	}
	if customer.Anonymous() || r.history == nil {
		return false, nil
	}

	if c.FirstOrderOnly {
		n, err := r.history.CountOrders(ctx, customer)
		if err != nil {
			return false, errors.Wrap(err, "count customer orders")
		}
		if n > 0 {
			return false, nil
		}
	}
	if c.PerUserLimit != nil {
		n, err := r.history.CountRedemptions(ctx, c.Code, customer)
		if err != nil {
			return false, errors.Wrapf(err, "count redemptions of %s", c.Code)
		}
		if n >= *c.PerUserLimit {
			return false, nil
		}
	}
	return true, nil
}

// MatchesCategories reports whether a coupon restricted to categories
// applies to the cart: no restriction, or at least one item in an allowed
// category. Category names compare case-insensitively.
func MatchesCategories(categories []string, items []CartItem) bool {
	if len(categories) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		allowed[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, it := range items {
		if _, ok := allowed[strings.ToLower(strings.TrimSpace(it.Category))]; ok {
			return true
		}
	}
	return false
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrNotFound):
		return "invalid_code"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrUsageExhausted):
		return "usage_exhausted"
	default:
		return "error"
	}
}
