//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestAdmin_RequiresAPIKey(t *testing.T) {
	resp := doGet(t, "/api/admin/coupons")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)

	resp2 := doRequest(t, http.MethodGet, "/api/admin/coupons", nil, "wrong-key")
	defer resp2.Body.Close()
	expectStatus(t, resp2, http.StatusUnauthorized)
}

func TestAdmin_CouponLifecycle(t *testing.T) {
	code := "IT-" + strings.ToUpper(strings.ReplaceAll(time.Now().Format("150405.000"), ".", ""))
	expires := time.Now().AddDate(0, 1, 0).UTC().Format(time.RFC3339)

	resp := doRequest(t, http.MethodPost, "/api/admin/coupons", map[string]any{
		"code":              code,
		"description":       "integration coupon",
		"discountType":      "PERCENTAGE",
		"discountAmount":    15,
		"minPurchaseAmount": 20,
		"expirationDate":    expires,
		"maxUses":           1,
	}, adminAPIKey)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)

	created := decodeJSON[adminCouponResponse](t, resp)
	if created.Coupon.Code != code || !created.Coupon.IsActive || created.Coupon.UsedCount != 0 {
		t.Fatalf("unexpected coupon: %+v", created.Coupon)
	}

	dup := doRequest(t, http.MethodPost, "/api/admin/coupons", map[string]any{
		"code":           code,
		"discountType":   "FIXED",
		"discountAmount": 1,
		"expirationDate": expires,
	}, adminAPIKey)
	defer dup.Body.Close()
	expectStatus(t, dup, http.StatusConflict)

	v := doPost(t, "/api/coupons/validate", map[string]any{"code": code, "cartTotal": 40})
	defer v.Body.Close()
	expectStatus(t, v, http.StatusOK)
	if q := decodeJSON[quoteResponse](t, v); q.Discount != 6 {
		t.Fatalf("discount: got %v, want 6", q.Discount)
	}

	inc := doRequest(t, http.MethodPost, "/api/admin/coupons/"+code+"/increment", nil, adminAPIKey)
	defer inc.Body.Close()
	expectStatus(t, inc, http.StatusOK)
	if c := decodeJSON[adminCouponResponse](t, inc); c.Coupon.UsedCount != 1 {
		t.Fatalf("usedCount: got %d, want 1", c.Coupon.UsedCount)
	}

	exhausted := doPost(t, "/api/coupons/validate", map[string]any{"code": code, "cartTotal": 40})
	defer exhausted.Body.Close()
	expectStatus(t, exhausted, http.StatusBadRequest)

	upd := doRequest(t, http.MethodPut, "/api/admin/coupons/"+code, map[string]any{
		"isActive": false,
	}, adminAPIKey)
	defer upd.Body.Close()
	expectStatus(t, upd, http.StatusOK)
	if c := decodeJSON[adminCouponResponse](t, upd); c.Coupon.IsActive || c.Coupon.UsedCount != 1 {
		t.Fatalf("unexpected coupon after update: %+v", c.Coupon)
	}

	get := doRequest(t, http.MethodGet, "/api/admin/coupons/"+strings.ToLower(code), nil, adminAPIKey)
	defer get.Body.Close()
	expectStatus(t, get, http.StatusOK)
	if c := decodeJSON[adminCouponResponse](t, get); c.Coupon.Description != "integration coupon" {
		t.Fatalf("description: got %q", c.Coupon.Description)
	}
}

func TestAdmin_GetMissing(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/api/admin/coupons/DOES-NOT-EXIST", nil, adminAPIKey)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func TestAdmin_ListAndGenerate(t *testing.T) {
	resp := doRequest(t, http.MethodPost, "/api/admin/coupons/generate", map[string]any{
		"count":  3,
		"prefix": "INTG-",
		"length": 8,
		"template": map[string]any{
			"discountType":      "FIXED",
			"discountAmount":    5,
			"minPurchaseAmount": 10000,
			"expirationDate":    time.Now().AddDate(0, 0, 7).UTC().Format(time.RFC3339),
		},
	}, adminAPIKey)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)

	generated := decodeJSON[adminListResponse](t, resp)
	if len(generated.Coupons) != 3 {
		t.Fatalf("generated %d coupons, want 3", len(generated.Coupons))
	}
	for _, c := range generated.Coupons {
		if !strings.HasPrefix(c.Code, "INTG-") || len(c.Code) != len("INTG-")+8 {
			t.Fatalf("unexpected generated code %q", c.Code)
		}
	}

	list := doRequest(t, http.MethodGet, "/api/admin/coupons?activeOnly=true&limit=500", nil, adminAPIKey)
	defer list.Body.Close()
	expectStatus(t, list, http.StatusOK)

	body := decodeJSON[adminListResponse](t, list)
	seen := make(map[string]bool, len(body.Coupons))
	for _, c := range body.Coupons {
		if !c.IsActive {
			t.Fatalf("inactive coupon %s in activeOnly list", c.Code)
		}
		seen[c.Code] = true
	}
	for _, want := range []string{"SAVE10", "DEMO20", generated.Coupons[0].Code} {
		if !seen[want] {
			t.Errorf("coupon %s missing from list", want)
		}
	}
}
