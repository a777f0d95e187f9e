package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/CallMeChewy/AndyWeb/internal/api/response"
	"github.com/CallMeChewy/AndyWeb/internal/logging"
)

// Recoverer turns a handler panic into a 500 and logs the stack.
func Recoverer(log logging.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logging.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error(r.Context(), "handler panic",
					"request_id", GetRequestID(r.Context()),
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				response.InternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
