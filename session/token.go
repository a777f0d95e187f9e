package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"
)

// TokenBytes is the number of random bytes behind every token (256 bits).
const TokenBytes = 32

// NewToken returns a fresh base64url token carrying n random bytes.
func NewToken(n int) (string, error) {
	if n < 16 {
		return "", errors.New("token size must be >= 16 bytes")
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the hex SHA-256 digest used as the storage key for token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Pair is a freshly minted session/refresh token pair. The plaintext tokens
// are returned to the client once; the hashes are what gets stored.
type Pair struct {
	SessionToken     string
	RefreshToken     string
	SessionHash      string
	RefreshHash      string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// NewPair mints a pair expiring ttl and refreshTTL after now.
func NewPair(now time.Time, ttl, refreshTTL time.Duration) (Pair, error) {
	if ttl <= 0 || refreshTTL < ttl {
		return Pair{}, errors.New("refresh ttl must be >= session ttl > 0")
	}
	st, err := NewToken(TokenBytes)
	if err != nil {
		return Pair{}, err
	}
	rt, err := NewToken(TokenBytes)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		SessionToken:     st,
		RefreshToken:     rt,
		SessionHash:      HashToken(st),
		RefreshHash:      HashToken(rt),
		ExpiresAt:        now.Add(ttl),
		RefreshExpiresAt: now.Add(refreshTTL),
	}, nil
}
