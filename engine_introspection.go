package andyweb

import (
	"context"
	"strconv"
	"time"
)

// TierPolicy returns the configured policy of t.
func (e *Engine) TierPolicy(t Tier) (TierPolicy, bool) {
	if e == nil || e.tiers == nil {
		return TierPolicy{}, false
	}
	return e.tiers.policy(t)
}

// TierPolicies returns every configured tier in ascending order.
func (e *Engine) TierPolicies() []TierPolicy {
	if e == nil || e.tiers == nil {
		return nil
	}
	out := make([]TierPolicy, 0, len(Tiers))
	for _, t := range Tiers {
		if p, ok := e.tiers.policy(t); ok {
			out = append(out, p)
		}
	}
	return out
}

// TierAllows reports whether tier t grants feature f.
func (e *Engine) TierAllows(t Tier, f Feature) bool {
	if e == nil || e.tiers == nil {
		return false
	}
	return e.tiers.set.Allows(string(t), string(f))
}

// RecordRateLimited counts and audits a request the HTTP limiter denied.
// userID is zero for anonymous callers.
func (e *Engine) RecordRateLimited(ctx context.Context, class, identity string, userID int64, retryAfter time.Duration) {
	if e == nil {
		return
	}
	e.metricInc(MetricRateLimitHit)
	limited := &RateLimitError{Class: class, RetryAfter: retryAfter}
	e.emitAudit(ctx, EventRateLimited, false, userID, 0, limited, func() map[string]string {
		return map[string]string{
			"class":               class,
			"identity":            identity,
			"retry_after_seconds": strconv.FormatInt(int64(retryAfter/time.Second), 10),
		}
	})
}

// RecordRateLimitError counts a limiter failure. The request it guarded was
// allowed through.
func (e *Engine) RecordRateLimitError(ctx context.Context, class string, err error) {
	if e == nil {
		return
	}
	e.metricInc(MetricRateLimitError)
	if e.logger != nil {
		e.logger.Warn(ctx, "rate limiter failed, allowing request", "class", class, "error", err)
	}
}
