package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

// ListCoupons handles GET /api/admin/coupons?activeOnly=&limit=&offset=.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f coupon.ListFilter
	var err error
	if v := q.Get("activeOnly"); v != "" {
		if f.ActiveOnly, err = strconv.ParseBool(v); err != nil {
			writeMessage(w, http.StatusBadRequest, "activeOnly must be a boolean")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			writeMessage(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			writeMessage(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
	}

	list, err := h.admin.List(r.Context(), f)
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCouponList(e, list) })
}

// GetCoupon handles GET /api/admin/coupons/{code}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.admin.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	writeCoupon(w, http.StatusOK, c)
}

// CreateCoupon handles POST /api/admin/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	c := &coupon.Coupon{Active: true}
	if err := decodeCoupon(r, c, true); err != nil {
		h.adminError(w, r, err)
		return
	}
	if err := h.admin.Create(r.Context(), c); err != nil {
		h.adminError(w, r, err)
		return
	}
	writeCoupon(w, http.StatusCreated, c)
}

// UpdateCoupon handles PUT /api/admin/coupons/{code}. Fields absent from the
// body keep their stored values.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.admin.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	if err := decodeCoupon(r, c, false); err != nil {
		h.adminError(w, r, err)
		return
	}
	if err := h.admin.Update(r.Context(), c); err != nil {
		h.adminError(w, r, err)
		return
	}
	writeCoupon(w, http.StatusOK, c)
}

// IncrementUsage handles POST /api/admin/coupons/{code}/increment.
func (h *Handler) IncrementUsage(w http.ResponseWriter, r *http.Request) {
	c, err := h.resolver.IncrementUsage(r.Context(), r.PathValue("code"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	writeCoupon(w, http.StatusOK, c)
}

// GenerateCoupons handles POST /api/admin/coupons/generate.
func (h *Handler) GenerateCoupons(w http.ResponseWriter, r *http.Request) {
	req := coupon.GenerateRequest{Template: coupon.Coupon{Active: true}}
	t := newCouponFields(&req.Template)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "count":
			req.Count, err = d.Int()
		case "prefix":
			req.Prefix, err = decodeOptStr(d)
		case "length":
			req.Length, err = d.Int()
		case "template":
			err = d.Obj(t.decode)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil {
		err = t.finish()
	}
	if err != nil {
		h.adminError(w, r, err)
		return
	}

	created, err := h.admin.Generate(r.Context(), req)
	if err != nil {
		zctx.From(r.Context()).Warn("Coupon generation stopped early",
			zap.Int("created", len(created)),
			zap.Int("requested", req.Count),
			zap.Error(err),
		)
		if len(created) == 0 {
			h.adminError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCouponList(e, created) })
}

func writeCoupon(w http.ResponseWriter, status int, c *coupon.Coupon) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("coupon")
		encodeCouponDetail(e, c)
		e.ObjEnd()
	})
}

func encodeCouponList(e *jx.Encoder, list []coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("coupons")
	e.ArrStart()
	for i := range list {
		encodeCouponDetail(e, &list[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}

func (h *Handler) adminError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *coupon.ValidationError
		berr *BadRequestError
	)
	switch {
	case errors.As(err, &verr):
		writeMessage(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &berr):
		writeMessage(w, http.StatusBadRequest, berr.Error())
	case errors.Is(err, coupon.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Coupon not found")
	case errors.Is(err, coupon.ErrDuplicateCode):
		writeMessage(w, http.StatusConflict, "Coupon code already exists")
	default:
		zctx.From(r.Context()).Error("Coupon admin request failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeCoupon applies the JSON body onto c. The code field is only read
// when allowCode is set; updates take the code from the path.
func decodeCoupon(r *http.Request, c *coupon.Coupon, allowCode bool) error {
	f := newCouponFields(c)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			if !allowCode {
				return d.Skip()
			}
			var err error
			c.Code, err = d.Str()
			return err
		}
		return f.decode(d, key)
	})
	if err != nil {
		return err
	}
	return f.finish()
}

// couponFields collects editable coupon fields. The discount kind and
// amount may arrive in any order, so the variant is built in finish.
type couponFields struct {
	c      *coupon.Coupon
	kind   string
	amount decimal.Decimal
}

func newCouponFields(c *coupon.Coupon) *couponFields {
	f := &couponFields{c: c}
	if c.Discount != nil {
		f.kind = string(c.Discount.Kind())
		f.amount = c.Discount.Amount()
	}
	return f
}

func (f *couponFields) decode(d *jx.Decoder, key string) error {
	c := f.c
	var err error
	switch key {
	case "description":
		c.Description, err = decodeOptStr(d)
	case "discountType":
		f.kind, err = d.Str()
	case "discountAmount":
		f.amount, err = decodeDecimal(d)
	case "minPurchaseAmount":
		c.MinPurchase, err = decodeDecimal(d)
	case "expirationDate":
		c.ExpiresAt, err = decodeTime(d)
	case "isActive":
		c.Active, err = d.Bool()
	case "maxUses":
		c.MaxUses, err = decodeOptInt(d)
	case "perUserLimit":
		c.PerUserLimit, err = decodeOptInt(d)
	case "firstOrderOnly":
		c.FirstOrderOnly, err = d.Bool()
	case "eligibleCategories":
		c.Categories, err = decodeStrings(d)
	default:
		err = d.Skip()
	}
	return err
}

func (f *couponFields) finish() error {
	if f.kind == "" {
		return nil
	}
	kind, ok := coupon.ParseKind(f.kind)
	if !ok {
		return &coupon.ValidationError{Field: "discountType", Reason: "must be PERCENTAGE or FIXED"}
	}
	d, err := coupon.NewDiscount(kind, f.amount)
	if err != nil {
		return err
	}
	f.c.Discount = d
	return nil
}
