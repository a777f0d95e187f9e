package andyweb

import (
	"context"
	"errors"
	"time"

	"github.com/CallMeChewy/AndyWeb/internal/logging"
	"github.com/CallMeChewy/AndyWeb/jwt"
	"github.com/CallMeChewy/AndyWeb/password"
	"github.com/CallMeChewy/AndyWeb/session"
)

// Builder assembles an Engine. Configure it once during startup; a Builder
// can be built only once.
type Builder struct {
	config Config
	store  Store

	auditSink AuditSink
	logger    logging.Logger
	clock     func() time.Time
	sender    VerificationSender

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. It is required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithAuditSink adds a sink that receives every activity event in addition
// to the store's activity table.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger logging.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now. Tests use it to move across expiries.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithVerificationSender sets where verification tokens are delivered. The
// default writes them to the logger.
func (b *Builder) WithVerificationSender(sender VerificationSender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. The caller
// owns the Engine and must Close it to flush the activity queue.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- TIER CATALOG --------
	tiers, err := newTierCatalog(cfg.Tiers)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORD HASHER --------
	hasher, err := password.NewHasher(password.Config{
		Memory:        cfg.Password.Memory,
		Time:          cfg.Password.Time,
		Parallelism:   cfg.Password.Parallelism,
		SaltLength:    cfg.Password.SaltLength,
		KeyLength:     cfg.Password.KeyLength,
		MaxConcurrent: cfg.Password.MaxConcurrentHashes,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logging.Nop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		hasher:  hasher,
		tiers:   tiers,
		logger:  logger,
		clock:   clock,
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- EMAIL VERIFICATION --------
	if cfg.EmailVerification.Enabled {
		jm, err := jwt.NewManager(jwt.Config{
			TTL:           cfg.EmailVerification.TTL,
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    cloneBytes(cfg.EmailVerification.SigningKey),
			Issuer:        cfg.EmailVerification.Issuer,
			Now:           engine.now,
		})
		if err != nil {
			return nil, err
		}
		engine.verifier = jm

		engine.sender = b.sender
		if engine.sender == nil {
			engine.sender = LogVerificationSender{Logger: logger}
		}
	}

	// -------- LOGIN TIMING --------
	if cfg.Security.EqualizeLoginTiming {
		filler, err := session.NewToken(session.TokenBytes)
		if err != nil {
			return nil, err
		}
		dummy, err := hasher.Hash(context.Background(), filler)
		if err != nil {
			return nil, err
		}
		engine.dummyHash = dummy
	}

	// -------- ACTIVITY LOG --------
	sinks := MultiSink{NewActivitySink(b.store, logger)}
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	engine.activity = newActivityQueue(cfg.Audit, sinks)

	b.built = true

	return engine, nil
}
