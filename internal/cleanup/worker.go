// Package cleanup runs session cleanup on a fixed interval.
package cleanup

import (
	"context"
	"time"

	"github.com/CallMeChewy/AndyWeb/internal/logging"
)

// Cleaner deletes expired and revoked sessions. *andyweb.Engine implements it.
type Cleaner interface {
	CleanupSessions(ctx context.Context) (int64, error)
}

// Worker calls Cleaner.CleanupSessions every Interval.
type Worker struct {
	Cleaner  Cleaner
	Interval time.Duration
	// Timeout bounds one pass. Zero means Interval.
	Timeout time.Duration
	Logger  logging.Logger
}

// Run loops until ctx is done. A failed pass is logged and retried on the
// next tick.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass and returns the number of deleted
// sessions.
func (w *Worker) RunOnce(ctx context.Context) int64 {
	log := w.Logger
	if log == nil {
		log = logging.Nop()
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = w.Interval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	n, err := w.Cleaner.CleanupSessions(ctx)
	if err != nil {
		log.Warn(ctx, "session cleanup failed", "error", err)
		return 0
	}
	if n > 0 {
		log.Info(ctx, "expired sessions removed", "count", n)
	}
	return n
}
