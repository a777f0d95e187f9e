package andyweb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	andyweb "github.com/CallMeChewy/AndyWeb"
)

func verificationEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngine(t, func(c *andyweb.Config) {
		c.EmailVerification.Enabled = true
		c.EmailVerification.SigningKey = []byte(testSigningKey)
		c.EmailVerification.TTL = time.Hour
	})
}

func TestEmailVerificationFlow(t *testing.T) {
	te := verificationEngine(t)
	ctx := context.Background()

	res, err := te.Register(ctx, andyweb.RegisterRequest{Email: "verify@example.com", Password: "goodpassword1"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !res.VerificationRequired {
		t.Fatal("expected VerificationRequired when verification is enabled")
	}
	if res.User.EmailVerified {
		t.Fatal("new accounts must start unverified")
	}

	token := te.sender.token(res.User.ID)
	if token == "" {
		t.Fatal("expected a verification token to be sent")
	}

	// Login is allowed before verification unless RequireForLogin is set.
	te.login(t, "verify@example.com", "goodpassword1")

	u, err := te.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if !u.EmailVerified {
		t.Fatal("expected user verified")
	}

	// Verifying twice succeeds.
	if _, err := te.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("second VerifyEmail failed: %v", err)
	}

	snap := te.MetricsSnapshot()
	if snap.Counters[andyweb.MetricEmailVerificationSent] != 1 || snap.Counters[andyweb.MetricEmailVerificationSuccess] != 1 {
		t.Fatalf("unexpected verification counters: %+v", snap.Counters)
	}
}

func TestEmailVerificationRejectsBadAndExpiredTokens(t *testing.T) {
	te := verificationEngine(t)
	ctx := context.Background()
	u := te.register(t, "verify@example.com", "goodpassword1")
	token := te.sender.token(u.ID)

	if _, err := te.VerifyEmail(ctx, "garbage"); !errors.Is(err, andyweb.ErrEmailVerificationInvalid) {
		t.Fatalf("expected ErrEmailVerificationInvalid, got %v", err)
	}

	te.clock.Advance(2 * time.Hour)
	if _, err := te.VerifyEmail(ctx, token); !errors.Is(err, andyweb.ErrEmailVerificationInvalid) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	if err := te.ResendVerification(ctx, u.ID); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}
	fresh := te.sender.token(u.ID)
	if fresh == token {
		t.Fatal("expected a new token on resend")
	}
	if _, err := te.VerifyEmail(ctx, fresh); err != nil {
		t.Fatalf("VerifyEmail with fresh token failed: %v", err)
	}

	// Already verified users get no new token.
	if err := te.ResendVerification(ctx, u.ID); err != nil {
		t.Fatalf("ResendVerification for verified user failed: %v", err)
	}
	if got := te.MetricsSnapshot().Counters[andyweb.MetricEmailVerificationSent]; got != 2 {
		t.Fatalf("expected 2 sends, got %d", got)
	}
}

func TestEmailVerificationDisabled(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	u := te.register(t, "plain@example.com", "goodpassword1")

	if _, err := te.VerifyEmail(ctx, "anything"); !errors.Is(err, andyweb.ErrEmailVerificationDisabled) {
		t.Fatalf("expected ErrEmailVerificationDisabled, got %v", err)
	}
	if err := te.ResendVerification(ctx, u.ID); !errors.Is(err, andyweb.ErrEmailVerificationDisabled) {
		t.Fatalf("expected ErrEmailVerificationDisabled, got %v", err)
	}
}

func TestVerificationSendFailureDoesNotFailRegistration(t *testing.T) {
	te := verificationEngine(t)
	te.sender.err = errors.New("smtp down")

	if _, err := te.Register(context.Background(), andyweb.RegisterRequest{Email: "smtp@example.com", Password: "goodpassword1"}); err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}
}
