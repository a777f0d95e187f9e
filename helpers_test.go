package andyweb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/store/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 10, 8, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSender captures verification tokens instead of mailing them.
type recordingSender struct {
	mu     sync.Mutex
	tokens map[int64]string
	err    error
}

func (s *recordingSender) SendVerification(_ context.Context, user *andyweb.User, token string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.tokens == nil {
		s.tokens = map[int64]string{}
	}
	s.tokens[user.ID] = token
	return nil
}

func (s *recordingSender) token(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID]
}

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testConfig() andyweb.Config {
	cfg := andyweb.ConfigForEnvironment(andyweb.EnvProduction, nil)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
	return cfg
}

type testEngine struct {
	*andyweb.Engine
	store  *memstore.Store
	clock  *fakeClock
	sender *recordingSender
}

func newTestEngine(t *testing.T, mutate func(*andyweb.Config)) *testEngine {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := memstore.New()
	clock := newFakeClock()
	sender := &recordingSender{}

	engine, err := andyweb.New().
		WithConfig(cfg).
		WithStore(store).
		WithClock(clock.Now).
		WithVerificationSender(sender).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, store: store, clock: clock, sender: sender}
}

// flushActivity closes the engine so queued activity rows reach the store.
func (te *testEngine) flushActivity() []andyweb.ActivityRecord {
	te.Close()
	return te.store.Activities()
}

func (te *testEngine) register(t *testing.T, email, password string) *andyweb.User {
	t.Helper()
	res, err := te.Register(context.Background(), andyweb.RegisterRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return res.User
}

func (te *testEngine) login(t *testing.T, email, password string) *andyweb.LoginResult {
	t.Helper()
	res, err := te.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	return res
}

func countActivity(recs []andyweb.ActivityRecord, eventType string) int {
	n := 0
	for _, r := range recs {
		if r.Type == eventType {
			n++
		}
	}
	return n
}
