package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/api/response"
)

type authResultContextKey struct{}

// SessionValidator is the part of the Engine the guard needs.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*andyweb.AuthResult, error)
}

// SessionFromContext returns the AuthResult stored by RequireSession.
func SessionFromContext(ctx context.Context) (*andyweb.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*andyweb.AuthResult)
	return res, ok
}

// WithSession stores res on ctx the way RequireSession does.
func WithSession(ctx context.Context, res *andyweb.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// RequireSession rejects requests without a usable bearer session token.
// Storage failures answer 503 so clients do not discard a valid token.
func RequireSession(engine SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				response.Unauthorized(w)
				return
			}

			token, ok := BearerToken(r)
			if !ok {
				response.Unauthorized(w)
				return
			}

			res, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, andyweb.ErrStorageUnavailable) {
					response.Detail(w, http.StatusServiceUnavailable, "Database connection failed")
					return
				}
				response.Unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), res)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	value := r.Header.Get("Authorization")
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
