package rate

import "errors"

var (
	// ErrRedisUnavailable wraps failures talking to the shared Redis backend.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidCost is returned for a non-positive request cost.
	ErrInvalidCost = errors.New("rate limit cost must be positive")
)
