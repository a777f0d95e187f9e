// Package middleware adapts andyweb.Engine and the rate limiter to net/http.
//
// # Chain
//
// The server mounts, in order: [RequestID], [ClientIP], [Logger],
// [Recoverer], [SecurityHeaders], [CORS] and, for /api/auth, [RateLimit].
// Protected routes add [RequireSession] and optionally [RequireFeature].
//
// # Boundaries
//
// This package translates HTTP into Engine calls and back. Credential checks,
// session state and tier policy live in the Engine; the middleware only
// reads the Authorization header, forwards client metadata through the
// request context and renders {"detail": ...} error bodies.
package middleware
