// Package api wires the AndyWeb HTTP surface onto a chi router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/logging"
	"github.com/CallMeChewy/AndyWeb/internal/rate"
	"github.com/CallMeChewy/AndyWeb/middleware"
)

// Options configures NewRouter.
type Options struct {
	Engine *andyweb.Engine
	// Limiter guards /api/auth. Nil disables rate limiting.
	Limiter rate.Limiter
	Logger  logging.Logger
	// Metrics is mounted at GET /metrics when set.
	Metrics       http.Handler
	CORSOrigins   []string
	TrustProxy    bool
	StrictHeaders bool
}

// NewRouter creates the main router.
func NewRouter(opts Options) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientIP(opts.TrustProxy))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.SecurityHeaders(opts.StrictHeaders))
	r.Use(middleware.CORS(opts.CORSOrigins))

	auth := NewAuthHandler(opts.Engine, log)
	requireSession := middleware.RequireSession(opts.Engine)

	r.Get("/api/health", auth.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/auth", func(r chi.Router) {
		var recorder middleware.RateLimitRecorder
		if opts.Engine != nil {
			recorder = opts.Engine
		}
		r.Use(middleware.RateLimit(opts.Limiter, recorder))

		// Public
		r.Post("/register", auth.Register)
		r.Post("/login", auth.Login)
		r.Post("/refresh", auth.Refresh)
		r.Post("/verify-email", auth.VerifyEmail)

		// Session required
		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/logout", auth.Logout)
			r.Post("/logout-all", auth.LogoutAll)
			r.Post("/resend-verification", auth.ResendVerification)
			r.Get("/profile", auth.Profile)
			r.Delete("/profile", auth.Deactivate)
			r.Get("/stats", auth.Stats)
			r.Post("/cleanup-sessions", auth.CleanupSessions)

			r.With(middleware.RequireFeature(andyweb.FeatureAdmin)).
				Put("/users/{id}/tier", auth.ChangeTier)
		})
	})

	return r
}
