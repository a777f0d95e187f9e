// Package rate implements the token-bucket request limiter applied to the
// HTTP surface.
//
// # Bucket semantics
//
// Every (identity, class) key owns one bucket holding at most Burst tokens
// and refilling at RequestsPerMinute/60 tokens per second. A request of cost
// c is admitted when the bucket holds c tokens; a denial reports
// RetryAfter = ceil((c - tokens) * 60 / RequestsPerMinute) seconds. New keys
// start full. Refill is lazy, proportional to elapsed time, and never
// retroactive. RequestsPerHour is published configuration only.
//
// # Backends
//
//   - [Memory]: per-process map guarded by a mutex, swept of idle keys.
//   - [Redis]: the same arithmetic in a Lua script so several server
//     instances share one budget. Keys use the prefix "rl:".
//
// # What this package must NOT do
//
//   - Block callers when the backend fails; callers decide to fail open.
//   - Import the root andyweb package.
package rate
