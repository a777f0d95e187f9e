// Command andyweb-loadtest measures rate limiter admission and session
// validation throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/rate"
	"github.com/CallMeChewy/AndyWeb/store/memstore"
)

func main() {
	var (
		backend     = flag.String("backend", "memory", "limiter backend: memory or redis")
		identities  = flag.Int("identities", 10000, "number of distinct client identities")
		users       = flag.Int("users", 50, "number of users to seed for the validate phase")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (limit + validate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *identities <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "identities, users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	limiter, cleanup, err := newLimiter(*backend, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "limiter: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, tokens, err := seedSessions(ctx, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	limitStats := runLimitPhase(ctx, limiter, *identities, *ops, *concurrency)
	validateStats := runValidatePhase(ctx, engine, tokens, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("limit", limitStats)
	printStats("validate", validateStats)
}

func newLimiter(backend, addr string) (rate.Limiter, func(), error) {
	cfg := rate.Config{Policies: rate.DefaultPolicies()}

	switch backend {
	case "memory":
		m, err := rate.NewMemory(cfg, nil)
		if err != nil {
			return nil, nil, err
		}
		fmt.Println("using in-process limiter")
		return m, func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}

	r, err := rate.NewRedis(client, cfg, nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return r, cleanup, nil
}

// seedSessions registers users and logs each in once, returning the session
// tokens. Hash cost is lowered so seeding stays fast.
func seedSessions(ctx context.Context, users int) (*andyweb.Engine, []string, error) {
	cfg := andyweb.ConfigForEnvironment(andyweb.EnvDevelopment, nil)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Security.EqualizeLoginTiming = false

	engine, err := andyweb.New().WithConfig(cfg).WithStore(memstore.New()).Build()
	if err != nil {
		return nil, nil, err
	}

	fmt.Printf("seeding %d sessions...\n", users)
	start := time.Now()
	tokens := make([]string, 0, users)
	for i := 0; i < users; i++ {
		email := fmt.Sprintf("load-%d@bowersworld.com", i)
		password := fmt.Sprintf("load-password-%d", i)
		if _, err := engine.Register(ctx, andyweb.RegisterRequest{Email: email, Password: password}); err != nil {
			engine.Close()
			return nil, nil, err
		}
		res, err := engine.Login(ctx, email, password)
		if err != nil {
			engine.Close()
			return nil, nil, err
		}
		tokens = append(tokens, res.SessionToken)
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return engine, tokens, nil
}

var classes = []rate.Class{rate.ClassLogin, rate.ClassRegistration, rate.ClassAPIGeneral, rate.ClassDownload}

func runLimitPhase(ctx context.Context, limiter rate.Limiter, identities, ops, concurrency int) phaseStats {
	var denied int64
	stats := runPhase(ops, concurrency, 7919, func(r *rand.Rand, i int) error {
		identity := fmt.Sprintf("ip:10.0.%d.%d", (i%identities)/256, (i%identities)%256)
		class := classes[r.Intn(len(classes))]
		d, err := limiter.Allow(ctx, identity, class, 1)
		if err == nil && !d.Allowed {
			atomic.AddInt64(&denied, 1)
		}
		return err
	})
	stats.denied = denied
	return stats
}

func runValidatePhase(ctx context.Context, engine *andyweb.Engine, tokens []string, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *rand.Rand, _ int) error {
		_, err := engine.ValidateSession(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
}

func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	denied   int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d denied=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.denied,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
