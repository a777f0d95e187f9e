package andyweb_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
)

func TestTierPolicies(t *testing.T) {
	te := newTestEngine(t, nil)

	policies := te.TierPolicies()
	if len(policies) != len(andyweb.Tiers) {
		t.Fatalf("expected %d tiers, got %d", len(andyweb.Tiers), len(policies))
	}
	for i, p := range policies {
		if p.Name != andyweb.Tiers[i] {
			t.Fatalf("expected tier %d to be %s, got %s", i, andyweb.Tiers[i], p.Name)
		}
	}

	inst, ok := te.TierPolicy(andyweb.TierInstitution)
	if !ok {
		t.Fatal("expected institution tier")
	}
	if inst.DownloadsPerDay != andyweb.Unlimited || inst.MaxSessions != 25 || inst.MonthlyCost != 99 {
		t.Fatalf("unexpected institution policy %+v", inst)
	}
	if _, ok := te.TierPolicy("platinum"); ok {
		t.Fatal("unknown tier must not resolve")
	}
}

func TestTierAllows(t *testing.T) {
	te := newTestEngine(t, nil)

	cases := []struct {
		tier    andyweb.Tier
		feature andyweb.Feature
		want    bool
	}{
		{andyweb.TierGuest, andyweb.FeatureSearchLimited, true},
		{andyweb.TierGuest, andyweb.FeatureDownload, false},
		{andyweb.TierFree, andyweb.FeatureDownloadLimited, true},
		{andyweb.TierScholar, andyweb.FeatureNotes, true},
		{andyweb.TierScholar, andyweb.FeatureExport, false},
		{andyweb.TierInstitution, andyweb.FeatureAnalytics, true},
		{"platinum", andyweb.FeatureBrowse, false},
	}
	for _, c := range cases {
		if got := te.TierAllows(c.tier, c.feature); got != c.want {
			t.Fatalf("TierAllows(%s, %s) = %v, want %v", c.tier, c.feature, got, c.want)
		}
	}
}

func TestRecordRateLimited(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := andyweb.WithClientIP(context.Background(), "192.0.2.44")

	te.RecordRateLimited(ctx, "login", "ip:192.0.2.44", 0, 30*time.Second)
	te.RecordRateLimitError(ctx, "login", errors.New("redis timeout"))

	snap := te.MetricsSnapshot()
	if snap.Counters[andyweb.MetricRateLimitHit] != 1 || snap.Counters[andyweb.MetricRateLimitError] != 1 {
		t.Fatalf("unexpected rate limit counters: %+v", snap.Counters)
	}

	recs := te.flushActivity()
	if countActivity(recs, andyweb.EventRateLimited) != 1 {
		t.Fatalf("expected one rate limit row, got %d", countActivity(recs, andyweb.EventRateLimited))
	}
	for _, r := range recs {
		if r.Type == andyweb.EventRateLimited && r.IPAddress != "192.0.2.44" {
			t.Fatalf("expected client IP on row, got %q", r.IPAddress)
		}
		if r.Type == andyweb.EventRateLimited && r.Data["error"] != "rate_limited" {
			t.Fatalf("expected rate_limited error code on row, got %q", r.Data["error"])
		}
	}
}

func TestRateLimitErrorMatchesSentinel(t *testing.T) {
	var err error = fmt.Errorf("download: %w", &andyweb.RateLimitError{Class: "download", RetryAfter: 12 * time.Second})

	if !errors.Is(err, andyweb.ErrRateLimited) {
		t.Fatalf("expected errors.Is(ErrRateLimited) for %v", err)
	}
	var limited *andyweb.RateLimitError
	if !errors.As(err, &limited) || limited.RetryAfter != 12*time.Second {
		t.Fatalf("expected RateLimitError with a 12s wait, got %#v", limited)
	}
	if got := limited.Error(); got != "rate limited (download): retry after 12s" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestConfigReturnsCopy(t *testing.T) {
	te := newTestEngine(t, nil)

	cfg := te.Config()
	cfg.Tiers[andyweb.TierFree] = andyweb.TierPolicy{Name: andyweb.TierFree, MaxSessions: 99}

	p, _ := te.TierPolicy(andyweb.TierFree)
	if p.MaxSessions != 2 {
		t.Fatalf("engine config mutated through copy: %+v", p)
	}
}

func TestSecurityReportReflectsPosture(t *testing.T) {
	te := newTestEngine(t, func(cfg *andyweb.Config) {
		cfg.EmailVerification.Enabled = true
		cfg.EmailVerification.RequireForLogin = true
		cfg.EmailVerification.SigningKey = []byte(testSigningKey)
	})

	report := te.SecurityReport()
	if report.Environment != "production" {
		t.Fatalf("expected production environment, got %q", report.Environment)
	}
	if !report.LockoutActive || report.LockoutMaxAttempts != 5 {
		t.Fatalf("expected lockout after 5 attempts, got %+v", report)
	}
	if !report.SessionCapsActive {
		t.Fatal("expected session caps active")
	}
	if !report.VerificationRequiredForLogin || !report.LoginTimingEqualized {
		t.Fatal("expected verification required and equalized timing")
	}
	if len(report.Warnings) != 1 || report.Warnings[0] != "argon2 memory is below 19 MiB" {
		t.Fatalf("expected only the argon2 memory warning, got %v", report.Warnings)
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *andyweb.Engine
	if r := e.SecurityReport(); r.LockoutActive || len(r.Warnings) != 0 {
		t.Fatalf("expected zero report, got %+v", r)
	}
}
