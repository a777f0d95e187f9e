// Package permission maps feature names to bits of a 64-bit mask and
// composes per-tier feature masks used by AndyWeb authorization checks.
//
// # Layout
//
// A [Registry] assigns bit positions to feature names in registration order.
// A [TierSet] compiles each subscription tier's feature list into a [Mask64]
// against a frozen registry. Bit positions are stable for the lifetime of the
// process; they are never persisted.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O.
//
// # What this package must NOT do
//
//   - Access databases or the network.
//   - Import the root andyweb package or session.
//   - Resize masks after registry construction.
package permission
