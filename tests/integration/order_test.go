//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestPlaceOrder_WithCoupon(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items:      []orderItem{{BookID: "bk-0001", Quantity: 3}},
		CouponCode: "save10",
		GuestEmail: "reader@example.com",
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	body := decodeJSON[orderResponse](t, resp)
	if !body.Success || body.ID == "" {
		t.Fatalf("unexpected order: %+v", body)
	}
	// 3 x 18.99
	if body.Subtotal != 56.97 {
		t.Errorf("subtotal: got %v, want 56.97", body.Subtotal)
	}
	if body.Discount != 10 {
		t.Errorf("discount: got %v, want 10", body.Discount)
	}
	if body.Total != 46.97 {
		t.Errorf("total: got %v, want 46.97", body.Total)
	}
	if body.CouponCode != "SAVE10" || !body.CouponRedeemed {
		t.Errorf("coupon: got %q redeemed=%v", body.CouponCode, body.CouponRedeemed)
	}
}

func TestPlaceOrder_WithoutCoupon(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items: []orderItem{
			{BookID: "bk-0003", Quantity: 1},
			{BookID: "bk-0004", Quantity: 2},
		},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	body := decodeJSON[orderResponse](t, resp)
	if body.Subtotal != 58 || body.Discount != 0 || body.Total != 58 {
		t.Fatalf("unexpected totals: %+v", body)
	}
	if body.CouponCode != "" {
		t.Fatalf("unexpected coupon %q", body.CouponCode)
	}
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name        string
		req         orderRequest
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "empty items",
			req:         orderRequest{},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "at least one item",
		},
		{
			name:       "unknown book",
			req:        orderRequest{Items: []orderItem{{BookID: "bk-9999", Quantity: 1}}},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "zero quantity",
			req:        orderRequest{Items: []orderItem{{BookID: "bk-0001", Quantity: 0}}},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "coupon below minimum",
			req: orderRequest{
				Items:      []orderItem{{BookID: "bk-0003", Quantity: 1}},
				CouponCode: "SAVE10",
			},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "minimum purchase amount",
		},
		{
			name: "unknown coupon",
			req: orderRequest{
				Items:      []orderItem{{BookID: "bk-0001", Quantity: 5}},
				CouponCode: "GHOST",
			},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid coupon code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPost(t, "/api/orders", tt.req)
			defer resp.Body.Close()
			expectStatus(t, resp, tt.wantStatus)

			body := decodeJSON[messageResponse](t, resp)
			if body.Success {
				t.Fatal("expected success=false")
			}
			if !strings.Contains(body.Message, tt.wantMessage) {
				t.Fatalf("message %q does not contain %q", body.Message, tt.wantMessage)
			}
		})
	}
}
