package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T, policies map[Class]Policy) (*Memory, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m, err := NewMemory(Config{Policies: policies}, clock.Now)
	if err != nil {
		t.Fatalf("NewMemory error: %v", err)
	}
	return m, clock
}

func TestMemoryLoginBurstThenDeny(t *testing.T) {
	m, _ := newTestMemory(t, nil)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := m.Allow(ctx, "203.0.113.7", ClassLogin, 1)
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
		if d.Remaining != 10-i {
			t.Fatalf("request %d remaining = %d", i, d.Remaining)
		}
	}

	d, err := m.Allow(ctx, "203.0.113.7", ClassLogin, 1)
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if d.Allowed {
		t.Fatal("11th login within a minute must be denied")
	}
	if d.RetryAfter != 6*time.Second {
		t.Fatalf("RetryAfter = %v, want 6s", d.RetryAfter)
	}
	if d.Limit != 10 || d.Remaining != 0 {
		t.Fatalf("unexpected decision %+v", d)
	}

	// Another identity has its own bucket.
	if d, _ := m.Allow(ctx, "198.51.100.1", ClassLogin, 1); !d.Allowed {
		t.Fatal("independent identity should be allowed")
	}
}

func TestMemoryRefillsExactlyOneToken(t *testing.T) {
	m, clock := newTestMemory(t, map[Class]Policy{
		ClassAPIGeneral: {RequestsPerMinute: 60, Burst: 5},
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if d, _ := m.Allow(ctx, "ip", ClassAPIGeneral, 1); !d.Allowed {
			t.Fatalf("burst request %d denied", i)
		}
	}
	if d, _ := m.Allow(ctx, "ip", ClassAPIGeneral, 1); d.Allowed {
		t.Fatal("expected empty bucket")
	}

	clock.Advance(time.Second)
	if d, _ := m.Allow(ctx, "ip", ClassAPIGeneral, 1); !d.Allowed {
		t.Fatal("expected one token after 60/rpm seconds")
	}
	if d, _ := m.Allow(ctx, "ip", ClassAPIGeneral, 1); d.Allowed {
		t.Fatal("expected exactly one token to have refilled")
	}
}

func TestMemoryRefillCapsAtBurst(t *testing.T) {
	m, clock := newTestMemory(t, map[Class]Policy{
		ClassAPIGeneral: {RequestsPerMinute: 60, Burst: 3},
	})
	ctx := context.Background()

	m.Allow(ctx, "ip", ClassAPIGeneral, 1)
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if d, _ := m.Allow(ctx, "ip", ClassAPIGeneral, 1); d.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed %d back-to-back, want burst 3", allowed)
	}
}

func TestMemoryClockSkewIsNotRetroactive(t *testing.T) {
	m, clock := newTestMemory(t, map[Class]Policy{
		ClassAPIGeneral: {RequestsPerMinute: 60, Burst: 1},
	})
	ctx := context.Background()

	m.Allow(ctx, "ip", ClassAPIGeneral, 1)
	clock.Advance(-10 * time.Second)
	if d, _ := m.Allow(ctx, "ip", ClassAPIGeneral, 1); d.Allowed {
		t.Fatal("backwards clock must not refill")
	}
}

func TestMemorySteadyRefillAfterBurst(t *testing.T) {
	m, clock := newTestMemory(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if d, _ := m.Allow(ctx, "ip", ClassLogin, 1); !d.Allowed {
			t.Fatalf("burst request %d denied", i)
		}
	}

	// One token every 60/rpm seconds, well past the advertised hourly figure.
	for step := 1; step <= 50; step++ {
		clock.Advance(6 * time.Second)
		d, err := m.Allow(ctx, "ip", ClassLogin, 1)
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("step %d denied, retry after %v", step, d.RetryAfter)
		}
	}

	d, _ := m.Allow(ctx, "ip", ClassLogin, 1)
	if d.Allowed {
		t.Fatal("expected empty bucket after steady use")
	}
	if d.RetryAfter != 6*time.Second {
		t.Fatalf("RetryAfter = %v, want 6s", d.RetryAfter)
	}
}

func TestMemoryRetryAfterCoversCost(t *testing.T) {
	m, _ := newTestMemory(t, map[Class]Policy{
		ClassDownload: {RequestsPerMinute: 5, RequestsPerHour: 1, Burst: 2},
	})
	ctx := context.Background()

	if d, _ := m.Allow(ctx, "ip", ClassDownload, 2); !d.Allowed {
		t.Fatal("expected burst of 2 to pass despite hourly figure of 1")
	}
	d, _ := m.Allow(ctx, "ip", ClassDownload, 2)
	if d.Allowed {
		t.Fatal("expected denial on empty bucket")
	}
	if d.RetryAfter != 24*time.Second {
		t.Fatalf("RetryAfter = %v, want 24s", d.RetryAfter)
	}
}

func TestMemoryUnknownClassUsesGeneral(t *testing.T) {
	m, _ := newTestMemory(t, nil)
	d, err := m.Allow(context.Background(), "ip", Class("exotic"), 1)
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if d.Class != ClassAPIGeneral || d.Limit != 60 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestMemoryRejectsNonPositiveCost(t *testing.T) {
	m, _ := newTestMemory(t, nil)
	if _, err := m.Allow(context.Background(), "ip", ClassLogin, 0); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("expected ErrInvalidCost, got %v", err)
	}
}

func TestMemorySweepRemovesIdleBuckets(t *testing.T) {
	m, clock := newTestMemory(t, nil)
	ctx := context.Background()

	m.Allow(ctx, "old", ClassLogin, 1)
	clock.Advance(59 * time.Minute)
	m.Allow(ctx, "fresh", ClassLogin, 1)
	clock.Advance(2 * time.Minute)

	if removed := m.Sweep(clock.Now()); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
}

func TestMemoryConcurrentAllowNeverOverAdmits(t *testing.T) {
	m, _ := newTestMemory(t, map[Class]Policy{
		ClassAPIGeneral: {RequestsPerMinute: 1, Burst: 20},
	})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, _ := m.Allow(ctx, "ip", ClassAPIGeneral, 1); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 20 {
		t.Fatalf("allowed = %d, want 20", allowed)
	}
}

func TestNewMemoryValidatesPolicies(t *testing.T) {
	if _, err := NewMemory(Config{Policies: map[Class]Policy{
		ClassAPIGeneral: {RequestsPerMinute: 0, Burst: 1},
	}}, nil); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := NewMemory(Config{Policies: map[Class]Policy{
		ClassLogin: {RequestsPerMinute: 1, Burst: 1},
	}}, nil); err == nil {
		t.Fatal("expected error when api_general is missing")
	}
}

func TestClassifyPath(t *testing.T) {
	cases := map[string]Class{
		"/api/auth/register":  ClassRegistration,
		"/api/auth/login":     ClassLogin,
		"/api/books/42/pdf":   ClassDownload,
		"/api/auth/profile":   ClassAPIGeneral,
		"/api/books/42/thumb": ClassAPIGeneral,
	}
	for path, want := range cases {
		if got := ClassifyPath(path); got != want {
			t.Fatalf("ClassifyPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func BenchmarkMemoryAllow(b *testing.B) {
	m, err := NewMemory(Config{Policies: DefaultPolicies()}, nil)
	if err != nil {
		b.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()
	identities := []string{"ip:10.0.0.1", "ip:10.0.0.2", "ip:10.0.0.3", "ip:10.0.0.4"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Allow(ctx, identities[i%len(identities)], ClassAPIGeneral, 1); err != nil {
			b.Fatalf("Allow: %v", err)
		}
	}
}
