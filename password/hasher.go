package password

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrUnknownFormat is returned when a stored hash is neither argon2id nor
// bcrypt.
var ErrUnknownFormat = errors.New("unrecognized password hash format")

// Hasher is the password component used by the engine. It hashes with
// argon2id, verifies argon2id and legacy bcrypt hashes, and bounds the number
// of hash computations running at once so a burst of logins cannot starve
// unrelated requests of CPU and memory.
//
// A Hasher is safe for concurrent use.
type Hasher struct {
	argon *Argon2
	sem   *semaphore.Weighted
}

// NewHasher builds a Hasher from cfg.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	h := &Hasher{argon: a}
	if cfg.MaxConcurrent > 0 {
		h.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return h, nil
}

func (h *Hasher) acquire(ctx context.Context) (func(), error) {
	if h.sem == nil {
		return func() {}, nil
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { h.sem.Release(1) }, nil
}

// Hash returns a new argon2id hash. It blocks while MaxConcurrent hashes are
// in flight and fails with ctx.Err() if ctx ends first.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	release, err := h.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return h.argon.Hash(plaintext)
}

// Verify reports whether plaintext matches encodedHash.
func (h *Hasher) Verify(ctx context.Context, plaintext, encodedHash string) (bool, error) {
	release, err := h.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	switch {
	case isArgon2Hash(encodedHash):
		return h.argon.Verify(plaintext, encodedHash)
	case isBcryptHash(encodedHash):
		return verifyBcrypt(plaintext, encodedHash)
	default:
		return false, ErrUnknownFormat
	}
}

// NeedsUpgrade reports whether encodedHash should be replaced on the next
// successful login. Legacy bcrypt hashes always need an upgrade.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	switch {
	case isArgon2Hash(encodedHash):
		return h.argon.NeedsUpgrade(encodedHash)
	case isBcryptHash(encodedHash):
		return true, nil
	default:
		return false, ErrUnknownFormat
	}
}
