// Package session mints opaque session and refresh tokens and defines the
// persisted session model.
//
// # Tokens
//
// Tokens are 32 random bytes from crypto/rand encoded as unpadded base64url.
// Only the SHA-256 hex digest of a token is ever persisted; [HashToken] is the
// single place that digest is computed.
//
// # Architecture boundaries
//
// This package owns token generation and the [Session] record. It does NOT
// talk to storage, evaluate tiers, or enforce authentication policy; those
// responsibilities belong to the Engine and its stores.
//
// # What this package must NOT do
//
//   - Import the root andyweb package (no upward imports).
//   - Store plaintext tokens in [Session] fields.
package session
