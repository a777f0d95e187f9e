package andyweb

import (
	"context"
	"errors"
	"time"

	"github.com/CallMeChewy/AndyWeb/internal/logging"
	"github.com/CallMeChewy/AndyWeb/jwt"
	"github.com/CallMeChewy/AndyWeb/password"
)

// Engine runs every authentication operation. Build one with New().Build();
// it is safe for concurrent use.
type Engine struct {
	config    Config
	store     Store
	hasher    *password.Hasher
	tiers     *tierCatalog
	verifier  *jwt.Manager
	sender    VerificationSender
	activity  *activityQueue
	metrics   *Metrics
	logger    logging.Logger
	clock     func() time.Time
	dummyHash string
}

// Close flushes queued activity events. The store is not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.activity.shutdown()
}

// AuditDropped returns the number of activity events dropped because the
// queue was full or a sink panicked.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.activity.lostCount()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Health pings the store.
func (e *Engine) Health(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.store.Ping(ctx); err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		return errors.Join(ErrStorageUnavailable, err)
	}
	return nil
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.hasher == nil || e.tiers == nil {
		return ErrEngineNotReady
	}
	return nil
}

// now is the engine clock in UTC. Every persisted timestamp comes from here.
func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock().UTC()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int64) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

// storageFailure logs err and returns it tagged as ErrStorageUnavailable.
// Context cancellation passes through untouched.
func (e *Engine) storageFailure(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.metricInc(MetricStorageError)
	e.logger.Error(ctx, "store operation failed", "op", op, "error", err)
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return errors.Join(ErrStorageUnavailable, err)
}

func (e *Engine) policyFor(t Tier) TierPolicy {
	if p, ok := e.tiers.policy(t); ok {
		return p
	}
	p, _ := e.tiers.policy(e.config.DefaultTier)
	return p
}
