// Package security summarizes the engine's hardening posture for startup
// logs and operator tooling.
//
// # What this package must NOT do
//
//   - Read configuration or engine state directly; callers pass a
//     ReportInput.
package security
