// Package limiters holds the per-account lockout state machine.
//
// [Lockout] counts consecutive failed logins and locks the account for a
// fixed duration once the threshold is reached. A lock always expires; there
// is no permanent ban. Request-rate limiting is separate and lives in
// internal/rate.
//
// # What this package must NOT do
//
//   - Perform I/O. Stores persist the state; this package only computes it.
//   - Import the root andyweb package.
package limiters
