package session

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestNewTokenEntropyAndEncoding(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		tok, err := NewToken(TokenBytes)
		if err != nil {
			t.Fatalf("NewToken error: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("token is not base64url: %v", err)
		}
		if len(raw) != TokenBytes {
			t.Fatalf("expected %d raw bytes, got %d", TokenBytes, len(raw))
		}
		if _, dup := seen[tok]; dup {
			t.Fatal("duplicate token generated")
		}
		seen[tok] = struct{}{}
	}
}

func TestNewTokenRejectsShortSize(t *testing.T) {
	if _, err := NewToken(8); err == nil {
		t.Fatal("expected error for 64-bit token")
	}
}

func TestHashTokenStable(t *testing.T) {
	a := HashToken("abc")
	if a != HashToken("abc") {
		t.Fatal("expected stable digest")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == HashToken("abd") {
		t.Fatal("expected distinct digests")
	}
}

func TestNewPair(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := NewPair(now, 24*time.Hour, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("NewPair error: %v", err)
	}
	if p.SessionToken == p.RefreshToken {
		t.Fatal("session and refresh tokens must differ")
	}
	if p.SessionHash != HashToken(p.SessionToken) || p.RefreshHash != HashToken(p.RefreshToken) {
		t.Fatal("hash fields do not match tokens")
	}
	if !p.ExpiresAt.Equal(now.Add(24*time.Hour)) || !p.RefreshExpiresAt.Equal(now.Add(30*24*time.Hour)) {
		t.Fatalf("unexpected expiries: %v %v", p.ExpiresAt, p.RefreshExpiresAt)
	}

	if _, err := NewPair(now, time.Hour, time.Minute); err == nil {
		t.Fatal("expected error when refresh ttl < session ttl")
	}
}

func TestSessionUsable(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{Active: true, ExpiresAt: now.Add(time.Second), RefreshExpiresAt: now.Add(time.Hour)}
	if !s.Usable(now) {
		t.Fatal("expected usable session")
	}
	if s.Usable(now.Add(time.Second)) {
		t.Fatal("expected session unusable at expiry instant")
	}
	if !s.Refreshable(now.Add(time.Minute)) {
		t.Fatal("expected refreshable inside refresh window")
	}
	s.Active = false
	if s.Usable(now) || s.Refreshable(now) {
		t.Fatal("revoked session must be neither usable nor refreshable")
	}
	var nilSession *Session
	if nilSession.Usable(now) {
		t.Fatal("nil session must not be usable")
	}
}
