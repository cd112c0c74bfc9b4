package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-coupons/internal/domain/auth"
)

// APIKeyHeader carries the plain API key on admin requests.
const APIKeyHeader = "api_key"

// SecurityHandler guards admin routes with hashed API keys.
type SecurityHandler struct {
	auth *auth.Authenticator
}

// NewSecurityHandler creates a SecurityHandler backed by the given
// Authenticator.
func NewSecurityHandler(a *auth.Authenticator) *SecurityHandler {
	return &SecurityHandler{auth: a}
}

// RequireScope rejects requests whose key is unknown or lacks the coupon
// admin scope.
func (s *SecurityHandler) RequireScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader), auth.ScopeCouponsAdmin)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrUnauthorized):
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		case errors.Is(err, auth.ErrForbidden):
			writeMessage(w, http.StatusForbidden, "Forbidden")
			return
		default:
			zctx.From(r.Context()).Error("Authenticate API key", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		lg := zctx.From(r.Context()).With(zap.String("api_key", info.Name))
		next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), lg)))
	})
}
