package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/api/response"
	"github.com/CallMeChewy/AndyWeb/internal/rate"
)

// RateLimitRecorder receives limiter outcomes. *andyweb.Engine implements it.
type RateLimitRecorder interface {
	RecordRateLimited(ctx context.Context, class, identity string, userID int64, retryAfter time.Duration)
	RecordRateLimitError(ctx context.Context, class string, err error)
}

// RateLimit admits each request against the limiter, keyed by client IP and
// the class of the request path.
//
// A limiter failure or panic lets the request through and is reported to
// recorder. Denials answer 429 with Retry-After.
func RateLimit(limiter rate.Limiter, recorder RateLimitRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			class := rate.ClassifyPath(r.URL.Path)
			identity := "ip:" + clientIPOrRemote(r)

			d, err := allow(ctx, limiter, identity, class)
			if err != nil {
				if recorder != nil {
					recorder.RecordRateLimitError(ctx, string(class), err)
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				if recorder != nil {
					recorder.RecordRateLimited(ctx, string(d.Class), identity, 0, d.RetryAfter)
				}
				h.Set("Retry-After", strconv.FormatInt(int64(d.RetryAfter/time.Second), 10))
				response.TooManyRequests(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allow shields the request from a panicking limiter backend.
func allow(ctx context.Context, limiter rate.Limiter, identity string, class rate.Class) (d rate.Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rate limiter panic: %v", rec)
		}
	}()
	return limiter.Allow(ctx, identity, class, 1)
}

func clientIPOrRemote(r *http.Request) string {
	if ip := andyweb.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return RemoteIP(r, false)
}
