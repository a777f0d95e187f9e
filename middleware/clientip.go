package middleware

import (
	"net"
	"net/http"
	"strings"

	andyweb "github.com/CallMeChewy/AndyWeb"
)

// ClientIP records the caller's address and user agent on the request
// context for the Engine's session rows and activity trail.
//
// Forwarding headers are honored only when trustProxy is set: the first
// X-Forwarded-For entry, then X-Real-IP, then RemoteAddr.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := andyweb.WithClientIP(r.Context(), RemoteIP(r, trustProxy))
			ctx = andyweb.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RemoteIP resolves the client address of r.
func RemoteIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
