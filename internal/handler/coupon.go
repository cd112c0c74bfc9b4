package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

const msgNoApplicableCoupon = "No applicable coupons found"

// ValidateCoupon handles POST /api/coupons/validate.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		code  string
		total decimal.Decimal
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "cartTotal":
			total, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := h.resolver.Validate(r.Context(), code, total)
	if err != nil {
		h.couponError(w, r, err, "Failed to validate coupon")
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// CheckCoupon handles GET /api/coupons/check?code=&cartTotal=.
func (h *Handler) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	total := decimal.Zero
	if raw := q.Get("cartTotal"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "cartTotal must be a number")
			return
		}
		total = v
	}

	valid := h.resolver.IsValid(r.Context(), q.Get("code"), total)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(valid)
		e.ObjEnd()
	})
}

// BestCoupon handles POST /api/coupons/best.
func (h *Handler) BestCoupon(w http.ResponseWriter, r *http.Request) {
	var req coupon.BestRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "cartTotal":
			req.CartTotal, err = decodeDecimal(d)
		case "userId":
			req.UserID, err = decodeOptStr(d)
		case "guestEmail":
			req.GuestEmail, err = decodeOptStr(d)
		case "cartItems":
			req.Items, err = decodeCartItems(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	best, err := h.resolver.FindBest(r.Context(), req)
	if err != nil {
		h.couponError(w, r, err, "Failed to find best coupon")
		return
	}
	if best == nil {
		writeMessage(w, http.StatusOK, msgNoApplicableCoupon)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, best) })
}

// couponError answers rule failures with their message and anything else
// with a generic one.
func (h *Handler) couponError(w http.ResponseWriter, r *http.Request, err error, generic string) {
	if isRuleError(err) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	zctx.From(r.Context()).Error(generic, zap.Error(err))
	writeMessage(w, http.StatusInternalServerError, generic)
}

// isRuleError reports whether err is a coupon rule the shopper can act on.
func isRuleError(err error) bool {
	for _, target := range []error{
		coupon.ErrInvalidCode,
		coupon.ErrInactive,
		coupon.ErrExpired,
		coupon.ErrBelowMinimum,
		coupon.ErrUsageExhausted,
		coupon.ErrNegativeTotal,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeCartItems(d *jx.Decoder) ([]coupon.CartItem, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var items []coupon.CartItem
	err := d.Arr(func(d *jx.Decoder) error {
		var it coupon.CartItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "bookId":
				it.BookID, err = d.Str()
			case "title":
				it.Title, err = decodeOptStr(d)
			case "price":
				it.Price, err = decodeDecimal(d)
			case "quantity":
				it.Quantity, err = d.Int()
			case "category":
				it.Category, err = decodeOptStr(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}
