package middleware

import (
	"net/http"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/api/response"
)

// RequireFeature answers 403 unless the session's tier grants feature. It
// must run after RequireSession.
func RequireFeature(feature andyweb.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := SessionFromContext(r.Context())
			if !ok {
				response.Unauthorized(w)
				return
			}
			if !res.Allows(feature) {
				response.Forbidden(w, "Feature not available for your subscription tier")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
