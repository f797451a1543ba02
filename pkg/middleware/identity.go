package middleware

import (
	"net/http"

	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
)

// Identity headers set by the gateway after it authenticates the caller.
const (
	UserIDHeader   = "X-User-ID"
	SellerIDHeader = "X-Seller-ID"
)

// Identity copies the gateway identity headers into the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(UserIDHeader); id != "" {
			ctx = logger.WithUserID(ctx, id)
		}
		if id := r.Header.Get(SellerIDHeader); id != "" {
			ctx = logger.WithSellerID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireBuyer rejects requests without a buyer identity.
func RequireBuyer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger.UserIDFromContext(r.Context()) == "" {
			writeUnauthorized(w, r, "missing "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSeller rejects requests without a seller identity.
func RequireSeller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger.SellerIDFromContext(r.Context()) == "" {
			writeUnauthorized(w, r, "missing "+SellerIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{Error: &httputil.ErrorResponse{
		Code:      "UNAUTHORIZED",
		Message:   msg,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}})
}

// NoStore marks every response as uncacheable. Carts and orders are
// per-buyer and change on every mutation.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, no-store")
		next.ServeHTTP(w, r)
	})
}
