// Package handler exposes the coupon, checkout and admin operations over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
	"github.com/xenking/bookstore-coupons/internal/domain/order"
)

// Resolver is the coupon resolver as seen by the HTTP layer.
type Resolver interface {
	Validate(ctx context.Context, code string, total decimal.Decimal) (*coupon.Quote, error)
	IsValid(ctx context.Context, code string, total decimal.Decimal) bool
	IncrementUsage(ctx context.Context, code string) (*coupon.Coupon, error)
	FindBest(ctx context.Context, req coupon.BestRequest) (*coupon.Quote, error)
}

// Admin manages coupon definitions.
type Admin interface {
	Get(ctx context.Context, code string) (*coupon.Coupon, error)
	List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, error)
	Create(ctx context.Context, c *coupon.Coupon) error
	Update(ctx context.Context, c *coupon.Coupon) error
	Generate(ctx context.Context, req coupon.GenerateRequest) ([]coupon.Coupon, error)
}

// Checkout places orders.
type Checkout interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

// Handler serves the JSON API.
type Handler struct {
	resolver Resolver
	admin    Admin
	checkout Checkout
	security *SecurityHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(resolver Resolver, admin Admin, checkout Checkout, security *SecurityHandler) *Handler {
	return &Handler{
		resolver: resolver,
		admin:    admin,
		checkout: checkout,
		security: security,
	}
}

// Register adds every API route to mux under the /api prefix.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/coupons/validate", h.ValidateCoupon)
	mux.HandleFunc("GET /api/coupons/check", h.CheckCoupon)
	mux.HandleFunc("POST /api/coupons/best", h.BestCoupon)
	mux.HandleFunc("POST /api/orders", h.PlaceOrder)

	admin := h.security.RequireScope
	mux.Handle("GET /api/admin/coupons", admin(http.HandlerFunc(h.ListCoupons)))
	mux.Handle("POST /api/admin/coupons", admin(http.HandlerFunc(h.CreateCoupon)))
	mux.Handle("POST /api/admin/coupons/generate", admin(http.HandlerFunc(h.GenerateCoupons)))
	mux.Handle("GET /api/admin/coupons/{code}", admin(http.HandlerFunc(h.GetCoupon)))
	mux.Handle("PUT /api/admin/coupons/{code}", admin(http.HandlerFunc(h.UpdateCoupon)))
	mux.Handle("POST /api/admin/coupons/{code}/increment", admin(http.HandlerFunc(h.IncrementUsage)))
}
