package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

const maxBodyBytes = 1 << 20

// BadRequestError marks a request body that could not be decoded.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string { return "malformed request: " + e.Err.Error() }

func (e *BadRequestError) Unwrap() error { return e.Err }

func badRequest(err error) error {
	return &BadRequestError{Err: err}
}

// decodeObject reads the request body as a single JSON object, calling fn
// for each field.
func decodeObject(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return badRequest(err)
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		return badRequest(err)
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.Errorf("expected number, got %s", d.Next())
	}
}

// decodeOptInt returns nil for a JSON null.
func decodeOptInt(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeMessage writes {"success":false,"message":msg}.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(false)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func encodeOptInt(e *jx.Encoder, v *int) {
	if v == nil {
		e.Null()
		return
	}
	e.Int(*v)
}

// encodeCoupon writes the public coupon shape returned by the coupon endpoints.
func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountType")
	e.Str(string(c.Discount.Kind()))
	e.FieldStart("discountAmount")
	encodeMoney(e, c.Discount.Amount())
	e.FieldStart("minPurchaseAmount")
	encodeMoney(e, c.MinPurchase)
	e.FieldStart("expirationDate")
	e.Str(c.ExpiresAt.UTC().Format(time.RFC3339))
	e.FieldStart("usedCount")
	e.Int(c.UsedCount)
	e.FieldStart("maxUses")
	encodeOptInt(e, c.MaxUses)
	e.ObjEnd()
}

// encodeCouponDetail writes the full coupon record returned to admins.
func encodeCouponDetail(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discountType")
	e.Str(string(c.Discount.Kind()))
	e.FieldStart("discountAmount")
	encodeMoney(e, c.Discount.Amount())
	e.FieldStart("minPurchaseAmount")
	encodeMoney(e, c.MinPurchase)
	e.FieldStart("expirationDate")
	e.Str(c.ExpiresAt.UTC().Format(time.RFC3339))
	e.FieldStart("isActive")
	e.Bool(c.Active)
	e.FieldStart("usedCount")
	e.Int(c.UsedCount)
	e.FieldStart("maxUses")
	encodeOptInt(e, c.MaxUses)
	e.FieldStart("perUserLimit")
	encodeOptInt(e, c.PerUserLimit)
	e.FieldStart("firstOrderOnly")
	e.Bool(c.FirstOrderOnly)
	e.FieldStart("eligibleCategories")
	e.ArrStart()
	for _, cat := range c.Categories {
		e.Str(cat)
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	e.Str(c.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(c.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

// encodeQuote writes {"success":true,"discount":...,"coupon":{...}}.
func encodeQuote(e *jx.Encoder, q *coupon.Quote) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("discount")
	encodeMoney(e, q.Amount)
	e.FieldStart("coupon")
	encodeCoupon(e, q.Coupon)
	e.ObjEnd()
}
