package rate

import (
	"context"
	"math"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Class     Class
	Limit     int
	Remaining int
	// ResetAt is when the bucket will be full again.
	ResetAt time.Time
	// RetryAfter is set on denials and is at least one second.
	RetryAfter time.Duration
}

// Limiter admits or rejects a request of the given cost.
//
// An error means the backend could not decide; callers should treat it as
// an allow and log it.
type Limiter interface {
	Allow(ctx context.Context, identity string, class Class, cost int) (Decision, error)
}

// Config configures a limiter backend.
type Config struct {
	Policies map[Class]Policy
	// StaleAfter is how long an idle key is kept. Defaults to one hour.
	StaleAfter time.Duration
}

const epsilon = 1e-9

func (c Config) staleAfter() time.Duration {
	if c.StaleAfter <= 0 {
		return time.Hour
	}
	return c.StaleAfter
}

func bucketKey(identity string, class Class) string {
	return identity + "|" + string(class)
}

// buckets is the token state of one key.
type buckets struct {
	tokens float64
	last   time.Time
}

func fullBuckets(p Policy, now time.Time) buckets {
	return buckets{tokens: float64(p.Burst), last: now}
}

func (p Policy) minuteRate() float64 { return float64(p.RequestsPerMinute) / 60 }

// refill advances b to now. A clock that moved backwards refills nothing.
func (p Policy) refill(b buckets, now time.Time) buckets {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return b
	}
	b.tokens = math.Min(float64(p.Burst), b.tokens+elapsed*p.minuteRate())
	b.last = now
	return b
}

// take refills b and tries to spend cost.
func (p Policy) take(b buckets, now time.Time, cost int) (buckets, bool) {
	b = p.refill(b, now)
	c := float64(cost)
	if b.tokens+epsilon < c {
		return b, false
	}
	b.tokens -= c
	return b, true
}

// decide builds the Decision reported for state b after a take. A denial
// waits for the missing tokens at the per-minute rate.
func (p Policy) decide(class Class, b buckets, allowed bool, cost int, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Class:     class,
		Limit:     p.RequestsPerMinute,
		Remaining: int(math.Floor(math.Max(b.tokens, 0) + epsilon)),
		ResetAt:   now.Add(secondsToDuration((float64(p.Burst) - b.tokens) / p.minuteRate())),
	}
	if allowed {
		return d
	}

	secs := math.Ceil((float64(cost)-b.tokens)/p.minuteRate() - epsilon)
	if secs < 1 {
		secs = 1
	}
	d.RetryAfter = time.Duration(secs) * time.Second
	return d
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(s)) * time.Second
}
