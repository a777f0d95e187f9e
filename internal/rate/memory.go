package rate

import (
	"context"
	"sync"
	"time"
)

// Memory is the per-process limiter backend.
type Memory struct {
	policies   policySet
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]buckets
}

// NewMemory builds an in-process limiter. now may be nil.
func NewMemory(cfg Config, now func() time.Time) (*Memory, error) {
	ps, err := newPolicySet(cfg.Policies)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{
		policies:   ps,
		staleAfter: cfg.staleAfter(),
		now:        now,
		buckets:    make(map[string]buckets),
	}, nil
}

// Allow implements Limiter. It never returns a backend error.
func (m *Memory) Allow(_ context.Context, identity string, class Class, cost int) (Decision, error) {
	if cost <= 0 {
		return Decision{}, ErrInvalidCost
	}
	class, p := m.policies.resolve(class)
	now := m.now()
	key := bucketKey(identity, class)

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = fullBuckets(p, now)
	}
	b, allowed := p.take(b, now, cost)
	m.buckets[key] = b
	m.mu.Unlock()

	return p.decide(class, b, allowed, cost, now), nil
}

// Sweep drops keys idle for longer than the staleness window and returns how
// many were removed.
func (m *Memory) Sweep(now time.Time) int {
	cutoff := now.Add(-m.staleAfter)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, b := range m.buckets {
		if b.last.Before(cutoff) {
			delete(m.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}
