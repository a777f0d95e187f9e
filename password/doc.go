// Package password implements password hashing and verification with Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) are still accepted by
// [Hasher.Verify]. [Hasher.NeedsUpgrade] returns true for them and for argon2id
// hashes produced with weaker parameters, so the caller can re-hash on the
// next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length
// bounds) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other AndyWeb package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
