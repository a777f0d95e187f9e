package password

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("old-library-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, err := h.Verify(context.Background(), "old-library-pass", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected bcrypt hash to verify: ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify(context.Background(), "not-the-pass", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch: ok=%v err=%v", ok, err)
	}

	upgrade, err := h.NeedsUpgrade(string(legacy))
	if err != nil || !upgrade {
		t.Fatalf("expected bcrypt hash to need upgrade: upgrade=%v err=%v", upgrade, err)
	}
}

func TestHasherRejectsUnknownFormat(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	if _, err := h.Verify(context.Background(), "x", "plaintext-in-db"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
	if _, err := h.NeedsUpgrade("plaintext-in-db"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestHasherRoundTrip(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := h.Hash(context.Background(), "secure-pass-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	ok, err := h.Verify(context.Background(), "secure-pass-1", hash)
	if err != nil || !ok {
		t.Fatalf("expected verify success: ok=%v err=%v", ok, err)
	}
}

func TestHasherConcurrencyLimitHonorsContext(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxConcurrent = 1
	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	// Occupy the only slot.
	if err := h.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := h.Hash(ctx, "blocked-password"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
