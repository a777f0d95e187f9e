package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcPrefix = "$argon2id$"

// Lower bounds accepted both in Config and in stored hashes.
const (
	floorMemoryKB   uint32 = 8 * 1024
	floorTime       uint32 = 1
	floorThreads    uint8  = 1
	floorSaltLength uint32 = 16
	floorKeyLength  uint32 = 16
)

// ErrMalformedHash wraps every parse failure of a stored argon2id hash.
var ErrMalformedHash = errors.New("malformed argon2id hash")

// Config holds the argon2id cost parameters.
//
// Memory is expressed in KiB. The zero value is invalid; start from
// DefaultConfig.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxConcurrent bounds simultaneous hash computations in a Hasher.
	// Zero means unbounded.
	MaxConcurrent int64
}

// DefaultConfig returns the OWASP baseline for argon2id (19 MiB, t=2, p=1).
func DefaultConfig() Config {
	return Config{
		Memory:        19 * 1024,
		Time:          2,
		Parallelism:   1,
		SaltLength:    16,
		KeyLength:     32,
		MaxConcurrent: 8,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", floorMemoryKB)
	case c.Time < floorTime:
		return errors.New("password time must be >= 1")
	case c.Parallelism < floorThreads:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < floorSaltLength:
		return fmt.Errorf("password salt length must be >= %d", floorSaltLength)
	case c.KeyLength < floorKeyLength:
		return fmt.Errorf("password key length must be >= %d", floorKeyLength)
	case c.MaxConcurrent < 0:
		return errors.New("password max concurrent must be >= 0")
	}
	return nil
}

// cost is the part of the parameters that is recorded in a hash.
type cost struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

func (c Config) cost() cost {
	return cost{memory: c.Memory, time: c.Time, threads: c.Parallelism, keyLen: c.KeyLength}
}

// weakerThan reports whether a hash made with c should be redone with want.
func (c cost) weakerThan(want cost) bool {
	return c.memory < want.memory ||
		c.time < want.time ||
		c.threads < want.threads ||
		c.keyLen != want.keyLen
}

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phc struct {
	cost
	salt []byte
	key  []byte
}

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version,
		p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key),
	)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, fmt.Sprintf(format, args...))
}

func parsePHC(s string) (phc, error) {
	rest, ok := strings.CutPrefix(s, phcPrefix)
	if !ok {
		return phc{}, malformed("not an argon2id hash")
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return phc{}, malformed("want 4 fields after algorithm, got %d", len(fields))
	}

	version, ok := strings.CutPrefix(fields[0], "v=")
	if !ok {
		return phc{}, malformed("missing version")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return phc{}, malformed("unsupported version %q", version)
	}

	c, err := parseCost(fields[1])
	if err != nil {
		return phc{}, err
	}

	salt, err := decodeB64(fields[2])
	if err != nil || len(salt) < int(floorSaltLength) {
		return phc{}, malformed("bad salt")
	}
	key, err := decodeB64(fields[3])
	if err != nil || len(key) == 0 {
		return phc{}, malformed("bad key")
	}
	c.keyLen = uint32(len(key))

	return phc{cost: c, salt: salt, key: key}, nil
}

// parseCost reads "m=..,t=..,p=.." in any order; every key must appear
// exactly once.
func parseCost(s string) (cost, error) {
	var (
		c    cost
		seen = map[string]bool{}
	)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || seen[k] {
			return cost{}, malformed("bad parameter %q", pair)
		}
		seen[k] = true

		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < floorMemoryKB {
				return cost{}, malformed("bad memory %q", v)
			}
			c.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < floorTime {
				return cost{}, malformed("bad time %q", v)
			}
			c.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || uint8(n) < floorThreads {
				return cost{}, malformed("bad parallelism %q", v)
			}
			c.threads = uint8(n)
		default:
			return cost{}, malformed("unknown parameter %q", k)
		}
	}
	if len(seen) != 3 {
		return cost{}, malformed("missing parameters")
	}
	return c, nil
}

// decodeB64 accepts padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func derive(plaintext string, salt []byte, c cost) []byte {
	return argon2.IDKey([]byte(plaintext), salt, c.time, c.memory, c.threads, c.keyLen)
}

// Argon2 produces and checks PHC-encoded argon2id hashes.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher bound to it.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a fresh salted hash of plaintext. The bytes are hashed as
// given, without Unicode normalization.
func (a *Argon2) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	c := a.config.cost()
	return phc{cost: c, salt: salt, key: derive(plaintext, salt, c)}.String(), nil
}

// Verify reports whether plaintext matches encoded in constant time. The
// cost is read from encoded, not from the receiver's config.
func (a *Argon2) Verify(plaintext, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(derive(plaintext, p.salt, p.cost), p.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the receiver's config.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return p.cost.weakerThan(a.config.cost()), nil
}

func isArgon2Hash(encoded string) bool {
	return strings.HasPrefix(encoded, phcPrefix)
}
