package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	andyweb "github.com/CallMeChewy/AndyWeb"
	"github.com/CallMeChewy/AndyWeb/internal/api"
	"github.com/CallMeChewy/AndyWeb/internal/rate"
	"github.com/CallMeChewy/AndyWeb/metrics/export/prometheus"
	"github.com/CallMeChewy/AndyWeb/store/memstore"
)

const signingKey = "0123456789abcdef0123456789abcdef"

type captureSender struct {
	mu     sync.Mutex
	tokens map[int64]string
}

func (s *captureSender) SendVerification(_ context.Context, user *andyweb.User, token string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = map[int64]string{}
	}
	s.tokens[user.ID] = token
	return nil
}

func (s *captureSender) token(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[id]
}

type testServer struct {
	t      *testing.T
	router http.Handler
	engine *andyweb.Engine
	store  *memstore.Store
	sender *captureSender
}

func newTestServer(t *testing.T, mutate func(*andyweb.Config)) *testServer {
	t.Helper()

	cfg := andyweb.ConfigForEnvironment(andyweb.EnvProduction, nil)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Audit.DropIfFull = false
	if mutate != nil {
		mutate(&cfg)
	}

	store := memstore.New()
	sender := &captureSender{}
	engine, err := andyweb.New().
		WithConfig(cfg).
		WithStore(store).
		WithVerificationSender(sender).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	limiter, err := rate.NewMemory(rate.Config{}, nil)
	require.NoError(t, err)

	router := api.NewRouter(api.Options{
		Engine:  engine,
		Limiter: limiter,
		Metrics: prometheus.NewPrometheusExporter(engine).Handler(),
	})
	return &testServer{t: t, router: router, engine: engine, store: store, sender: sender}
}

func (s *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[struct {
		Detail string `json:"detail"`
	}](t, rec).Detail
}

func (s *testServer) register(email, password, tier string) api.RegisterResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/register", api.RegisterRequest{Email: email, Password: password, SubscriptionTier: tier}, "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.RegisterResponse](s.t, rec)
}

func (s *testServer) login(email, password string) api.LoginResponse {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: email, Password: password}, "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.LoginResponse](s.t, rec)
}

func TestRegisterEchoesTier(t *testing.T) {
	s := newTestServer(t, nil)

	res := s.register("alice@example.com", "goodpassword1", "free")

	assert.Equal(t, "free", res.User.SubscriptionTier)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.True(t, res.User.IsActive)
	assert.False(t, res.User.EmailVerified)
	assert.Nil(t, res.User.LastLoginDate)
	assert.Contains(t, res.Message, "free member")
}

func TestRegisterResponseHidesCredentials(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/auth/register", api.RegisterRequest{Email: "alice@example.com", Password: "goodpassword1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotContains(t, body, "goodpassword1")
	assert.NotContains(t, body, "argon2id")
	assert.NotContains(t, body, "login_attempts")
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice@example.com", "goodpassword1", "free")

	rec := s.do(http.MethodPost, "/api/auth/register", api.RegisterRequest{Email: "alice@example.com", Password: "goodpassword1", SubscriptionTier: "free"}, "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email address already registered", detail(t, rec))
}

func TestRegisterDuplicateUsernameConflict(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/api/auth/register", api.RegisterRequest{Email: "a@example.com", Password: "goodpassword1", Username: "reader"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/register", api.RegisterRequest{Email: "b@example.com", Password: "goodpassword1", Username: "reader"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Username already taken", detail(t, rec))
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"bad email", api.RegisterRequest{Email: "nope", Password: "goodpassword1"}, "email"},
		{"short password", api.RegisterRequest{Email: "a@example.com", Password: "short"}, "password"},
		{"guest tier", api.RegisterRequest{Email: "a@example.com", Password: "goodpassword1", SubscriptionTier: "guest"}, "subscription_tier"},
		{"malformed json", `{"email":`, ""},
		{"empty body", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/auth/register", tt.body, "")
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			if tt.field != "" {
				assert.True(t, strings.HasPrefix(detail(t, rec), tt.field+":"), detail(t, rec))
			}
		})
	}
}

func TestLockoutReturns423AfterFiveFailures(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice@example.com", "goodpassword1", "free")

	for i := 1; i <= 5; i++ {
		rec := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "alice@example.com", Password: "wrongpassword"}, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
		assert.Equal(t, "Invalid email or password", detail(t, rec))
	}

	rec := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "alice@example.com", Password: "goodpassword1"}, "")
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "Account temporarily locked due to failed login attempts", detail(t, rec))
}

func TestUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice@example.com", "goodpassword1", "free")

	unknown := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "bob@example.com", Password: "goodpassword1"}, "")
	wrong := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "alice@example.com", Password: "badpassword1"}, "")

	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
}

func TestLoginProfileLogoutFlow(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice@example.com", "goodpassword1", "scholar")

	login := s.login("alice@example.com", "goodpassword1")
	require.NotEmpty(t, login.SessionToken)
	require.NotEmpty(t, login.RefreshToken)
	assert.True(t, login.RefreshExpiresAt.After(login.ExpiresAt))
	assert.NotNil(t, login.User.LastLoginDate)

	rec := s.do(http.MethodGet, "/api/auth/profile", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[api.UserResponse](t, rec)
	assert.Equal(t, "alice@example.com", profile.Email)
	assert.Equal(t, "scholar", profile.SubscriptionTier)

	rec = s.do(http.MethodPost, "/api/auth/logout", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Logout successful")

	rec = s.do(http.MethodGet, "/api/auth/profile", nil, login.SessionToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 1; i <= 10; i++ {
		rec := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "nobody@example.com", Password: "whatever1"}, "")
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code, "request %d", i)
	}

	rec := s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "nobody@example.com", Password: "whatever1"}, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded. Please try again later.", detail(t, rec))

	assert.Equal(t, uint64(1), s.engine.MetricsSnapshot().Counters[andyweb.MetricRateLimitHit])
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t, nil)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodPost, "/api/auth/logout-all"},
		{http.MethodGet, "/api/auth/profile"},
		{http.MethodDelete, "/api/auth/profile"},
		{http.MethodGet, "/api/auth/stats"},
		{http.MethodPost, "/api/auth/cleanup-sessions"},
		{http.MethodPost, "/api/auth/resend-verification"},
		{http.MethodPut, "/api/auth/users/1/tier"},
	}
	for _, rt := range routes {
		rec := s.do(rt.method, rt.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", rt.method, rt.path)
		rec = s.do(rt.method, rt.path, nil, "not-a-session")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", rt.method, rt.path)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice@example.com", "goodpassword1", "free")
	login := s.login("alice@example.com", "goodpassword1")

	rec := s.do(http.MethodPost, "/api/auth/refresh", api.RefreshRequest{RefreshToken: login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decode[api.LoginResponse](t, rec)
	assert.NotEqual(t, login.SessionToken, next.SessionToken)
	assert.NotEqual(t, login.RefreshToken, next.RefreshToken)
	assert.True(t, next.RefreshExpiresAt.Equal(login.RefreshExpiresAt))

	// The old pair is spent.
	rec = s.do(http.MethodPost, "/api/auth/refresh", api.RefreshRequest{RefreshToken: login.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(http.MethodGet, "/api/auth/profile", nil, login.SessionToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/auth/profile", nil, next.SessionToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/refresh", api.RefreshRequest{}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLogoutAllAndStats(t *testing.T) {
	s := newTestServer(t, func(c *andyweb.Config) {
		p := c.Tiers[andyweb.TierFree]
		p.MaxSessions = 5
		c.Tiers[andyweb.TierFree] = p
	})
	s.register("alice@example.com", "goodpassword1", "free")
	s.register("bob@example.com", "goodpassword1", "researcher")
	first := s.login("alice@example.com", "goodpassword1")
	s.login("alice@example.com", "goodpassword1")
	s.login("bob@example.com", "goodpassword1")

	rec := s.do(http.MethodGet, "/api/auth/stats", nil, first.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.UserStatsResponse](t, rec)
	want := api.UserStatsResponse{
		TotalUsers:     2,
		UsersByTier:    map[string]int64{"free": 1, "researcher": 1},
		NewUsersToday:  2,
		ActiveSessions: 3,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	rec = s.do(http.MethodPost, "/api/auth/logout-all", nil, first.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[api.LogoutAllResponse](t, rec).RevokedCount)

	rec = s.do(http.MethodGet, "/api/auth/profile", nil, first.SessionToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCleanupSessions(t *testing.T) {
	s := newTestServer(t, func(c *andyweb.Config) {
		p := c.Tiers[andyweb.TierFree]
		p.MaxSessions = 5
		c.Tiers[andyweb.TierFree] = p
	})
	s.register("alice@example.com", "goodpassword1", "free")
	old := s.login("alice@example.com", "goodpassword1")
	current := s.login("alice@example.com", "goodpassword1")
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/auth/logout", nil, old.SessionToken).Code)

	rec := s.do(http.MethodPost, "/api/auth/cleanup-sessions", nil, current.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[api.CleanupResponse](t, rec)
	assert.Equal(t, int64(1), body.CleanedCount)
	assert.Equal(t, "Cleaned up 1 expired sessions", body.Message)
}

func TestDeactivateAccount(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice@example.com", "goodpassword1", "free")
	login := s.login("alice@example.com", "goodpassword1")

	rec := s.do(http.MethodDelete, "/api/auth/profile", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/auth/profile", nil, login.SessionToken).Code)
	rec = s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "alice@example.com", Password: "goodpassword1"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangeTierRequiresAdminFeature(t *testing.T) {
	s := newTestServer(t, nil)
	member := s.register("member@example.com", "goodpassword1", "free")
	s.register("admin@example.com", "goodpassword1", "institution")
	memberLogin := s.login("member@example.com", "goodpassword1")
	adminLogin := s.login("admin@example.com", "goodpassword1")

	path := fmt.Sprintf("/api/auth/users/%d/tier", member.User.ID)

	rec := s.do(http.MethodPut, path, api.ChangeTierRequest{SubscriptionTier: "scholar"}, memberLogin.SessionToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPut, path, api.ChangeTierRequest{SubscriptionTier: "scholar"}, adminLogin.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "scholar", decode[api.UserResponse](t, rec).SubscriptionTier)

	rec = s.do(http.MethodPut, path, api.ChangeTierRequest{SubscriptionTier: "platinum"}, adminLogin.SessionToken)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPut, "/api/auth/users/abc/tier", api.ChangeTierRequest{SubscriptionTier: "scholar"}, adminLogin.SessionToken)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPut, "/api/auth/users/9999/tier", api.ChangeTierRequest{SubscriptionTier: "scholar"}, adminLogin.SessionToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmailVerificationEndpoints(t *testing.T) {
	s := newTestServer(t, func(c *andyweb.Config) {
		c.EmailVerification.Enabled = true
		c.EmailVerification.SigningKey = []byte(signingKey)
	})
	reg := s.register("alice@example.com", "goodpassword1", "free")
	assert.True(t, reg.EmailVerificationRequired)

	rec := s.do(http.MethodPost, "/api/auth/verify-email", api.VerifyEmailRequest{Token: "forged"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	login := s.login("alice@example.com", "goodpassword1")
	rec = s.do(http.MethodPost, "/api/auth/resend-verification", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/verify-email", api.VerifyEmailRequest{Token: s.sender.token(reg.User.ID)}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/auth/profile", nil, login.SessionToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.UserResponse](t, rec).EmailVerified)
}

func TestVerifyEmailDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/api/auth/verify-email", api.VerifyEmailRequest{Token: "x"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndStorageOutage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.HealthResponse](t, rec).DatabaseConnected)

	s.store.SetUnavailable(errors.New("connection refused"))

	rec = s.do(http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[api.HealthResponse](t, rec).Status)

	rec = s.do(http.MethodPost, "/api/auth/login", api.LoginRequest{Email: "alice@example.com", Password: "goodpassword1"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Database connection failed", detail(t, rec))
	assert.NotContains(t, rec.Body.String(), "connection refused")

	rec = s.do(http.MethodGet, "/api/auth/profile", nil, "some-token")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice@example.com", "goodpassword1", "free")

	rec := s.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "andyweb_register_success_total 1")
}

func TestResponsesCarryRequestID(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/api/health", nil, "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
