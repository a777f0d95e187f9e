package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript mirrors Policy.take. Floats are returned as strings because
// Redis truncates Lua numbers to integers.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rpm = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])
local eps = 1e-9

local st = redis.call('HMGET', key, 'n', 't')
local n = tonumber(st[1])
local t = tonumber(st[2])
if n == nil or t == nil then
  n = burst
  t = now
end

local elapsed = (now - t) / 1000
if elapsed > 0 then
  n = math.min(burst, n + elapsed * rpm / 60)
  t = now
end

local allowed = 0
if n + eps >= cost then
  n = n - cost
  allowed = 1
end

redis.call('HSET', key, 'n', tostring(n), 't', tostring(t))
redis.call('PEXPIRE', key, ttl)
return {allowed, tostring(n)}
`)

// Redis is the shared limiter backend. Buckets expire after the staleness
// window, so no sweeper is needed.
type Redis struct {
	client     redis.UniversalClient
	policies   policySet
	staleAfter time.Duration
	now        func() time.Time
}

// NewRedis builds a Redis-backed limiter. now may be nil.
func NewRedis(client redis.UniversalClient, cfg Config, now func() time.Time) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	ps, err := newPolicySet(cfg.Policies)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, policies: ps, staleAfter: cfg.staleAfter(), now: now}, nil
}

func redisKey(identity string, class Class) string {
	return "rl:" + bucketKey(identity, class)
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, identity string, class Class, cost int) (Decision, error) {
	if cost <= 0 {
		return Decision{}, ErrInvalidCost
	}
	class, p := r.policies.resolve(class)
	now := r.now()

	res, err := takeScript.Run(ctx, r.client, []string{redisKey(identity, class)},
		now.UnixMilli(),
		p.RequestsPerMinute,
		p.Burst,
		cost,
		r.staleAfter.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	allowed, _ := res[0].(int64)
	tokens, err := parseFloatReply(res[1])
	if err != nil {
		return Decision{}, err
	}

	b := buckets{tokens: tokens, last: now}
	return p.decide(class, b, allowed == 1, cost, now), nil
}

func parseFloatReply(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: non-string bucket reply", ErrRedisUnavailable)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return f, nil
}
