// Package andyweb is the authentication core of the Anderson's Library web
// backend: registration, password login with account lockout, opaque session
// and refresh tokens with per-tier concurrency caps, subscription tiers, and
// an append-only activity trail.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// andyweb is the public surface. It exposes [Engine], [Builder], [Config], the
// store interfaces ([UserStore], [SessionStore], [ActivityStore]) and value
// types. Persistence lives in store/memstore and store/sqlstore; HTTP wiring
// lives in internal/api and middleware; request rate limiting lives in
// internal/rate and is applied by middleware, never by the Engine.
//
// # What this package must NOT do
//
//   - Persist or log plaintext passwords or tokens. Stores see SHA-256 token
//     digests and password hashes only.
//   - Import any sub-package that re-imports andyweb (no import cycles).
//   - Let an activity-log failure fail or roll back the operation that produced it.
//
// # Session invariant
//
// A session authenticates a request iff it exists, is active, the current
// time is before its expiry, and its owner is still active.
package andyweb
