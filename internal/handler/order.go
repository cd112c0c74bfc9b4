package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
	"github.com/xenking/bookstore-coupons/internal/domain/order"
)

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req order.PlaceOrderRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeOrderItems(d)
		case "couponCode":
			req.CouponCode, err = decodeOptStr(d)
		case "userId":
			req.Customer.UserID, err = decodeOptStr(d)
		case "guestEmail":
			req.Customer.GuestEmail, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.checkout.PlaceOrder(r.Context(), req)
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, res) })
}

func (h *Handler) orderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bnf *order.BookNotFoundError
		iq  *order.InvalidQuantityError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems):
		writeMessage(w, http.StatusBadRequest, "Order must contain at least one item")
	case errors.As(err, &iq), errors.As(err, &bnf):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case isRuleError(err):
		writeMessage(w, http.StatusBadRequest, ruleMessage(err))
	default:
		zctx.From(r.Context()).Error("Place order", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to place order")
	}
}

// ruleMessage returns the innermost coupon rule message, dropping the
// wrapping added on the way up.
func ruleMessage(err error) string {
	var bm *coupon.BelowMinimumError
	if errors.As(err, &bm) {
		return bm.Error()
	}
	for _, target := range []error{
		coupon.ErrInvalidCode,
		coupon.ErrInactive,
		coupon.ErrExpired,
		coupon.ErrUsageExhausted,
		coupon.ErrNegativeTotal,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func decodeOrderItems(d *jx.Decoder) ([]order.Item, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var items []order.Item
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "bookId":
				it.BookID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
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

func encodeOrder(e *jx.Encoder, res *order.PlaceOrderResult) {
	o := res.Order
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("bookId")
		e.Str(it.BookID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("books")
	e.ArrStart()
	for _, b := range res.Books {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(b.ID)
		e.FieldStart("title")
		e.Str(b.Title)
		e.FieldStart("author")
		e.Str(b.Author)
		e.FieldStart("price")
		encodeMoney(e, b.Price)
		e.FieldStart("category")
		e.Str(b.Category)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	encodeMoney(e, o.Subtotal)
	e.FieldStart("discount")
	encodeMoney(e, o.Discount)
	e.FieldStart("total")
	encodeMoney(e, o.Total)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
		e.FieldStart("couponRedeemed")
		e.Bool(res.Redeemed)
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
