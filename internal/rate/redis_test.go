package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisMatchesMemoryArithmetic(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	policies := map[Class]Policy{
		ClassAPIGeneral: {RequestsPerMinute: 60, Burst: 5},
		ClassLogin:      {RequestsPerMinute: 10, RequestsPerHour: 30, Burst: 10},
	}
	r, err := NewRedis(rdb, Config{Policies: policies}, clock.Now)
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := r.Allow(ctx, "ip", ClassLogin, 1)
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if !d.Allowed || d.Remaining != 10-i {
			t.Fatalf("request %d: %+v", i, d)
		}
	}
	d, err := r.Allow(ctx, "ip", ClassLogin, 1)
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if d.Allowed || d.RetryAfter != 6*time.Second {
		t.Fatalf("expected denial with 6s retry, got %+v", d)
	}

	for i := 0; i < 5; i++ {
		r.Allow(ctx, "ip", ClassAPIGeneral, 1)
	}
	if d, _ := r.Allow(ctx, "ip", ClassAPIGeneral, 1); d.Allowed {
		t.Fatal("expected empty general bucket")
	}
	clock.Advance(time.Second)
	if d, _ := r.Allow(ctx, "ip", ClassAPIGeneral, 1); !d.Allowed {
		t.Fatal("expected refill of one token")
	}
	if d, _ := r.Allow(ctx, "ip", ClassAPIGeneral, 1); d.Allowed {
		t.Fatal("expected exactly one refilled token")
	}
}

func TestRedisSteadyRefillAfterBurst(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	r, err := NewRedis(rdb, Config{Policies: DefaultPolicies()}, clock.Now)
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if d, err := r.Allow(ctx, "ip", ClassLogin, 1); err != nil || !d.Allowed {
			t.Fatalf("burst request %d: %+v, %v", i, d, err)
		}
	}
	for step := 1; step <= 50; step++ {
		clock.Advance(6 * time.Second)
		d, err := r.Allow(ctx, "ip", ClassLogin, 1)
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("step %d denied, retry after %v", step, d.RetryAfter)
		}
	}

	d, err := r.Allow(ctx, "ip", ClassLogin, 1)
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if d.Allowed || d.RetryAfter != 6*time.Second {
		t.Fatalf("expected denial with 6s retry, got %+v", d)
	}
}

func TestRedisKeysExpireWhenIdle(t *testing.T) {
	mr, rdb := newTestRedis(t)
	r, err := NewRedis(rdb, Config{StaleAfter: time.Minute}, nil)
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	if _, err := r.Allow(context.Background(), "ip", ClassLogin, 1); err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	key := redisKey("ip", ClassLogin)
	if !mr.Exists(key) {
		t.Fatalf("expected key %s", key)
	}
	mr.FastForward(2 * time.Minute)
	if mr.Exists(key) {
		t.Fatal("expected idle key to expire")
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	r, err := NewRedis(rdb, Config{}, nil)
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	mr.Close()

	if _, err := r.Allow(context.Background(), "ip", ClassLogin, 1); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
