package andyweb

import (
	"context"
	"sync"
	"sync/atomic"
)

// activityQueue moves activity-trail writes off the request path. A single
// writer goroutine hands events to the sink in arrival order, so rows for
// one request land in the order they were recorded.
type activityQueue struct {
	sink     AuditSink
	dropFull bool

	pending    chan AuditEvent
	quit       chan struct{}
	writerDone chan struct{}

	lost     atomic.Uint64
	stopping atomic.Bool
	stopOnce sync.Once
}

// newActivityQueue returns nil when the trail is disabled; every method
// accepts a nil receiver.
func newActivityQueue(cfg AuditConfig, sink AuditSink) *activityQueue {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	q := &activityQueue{
		sink:       sink,
		dropFull:   cfg.DropIfFull,
		pending:    make(chan AuditEvent, max(cfg.BufferSize, 1)),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go q.write()
	return q
}

func (q *activityQueue) write() {
	defer close(q.writerDone)
	for {
		select {
		case ev := <-q.pending:
			q.deliver(ev)
		case <-q.quit:
			q.drain()
			return
		}
	}
}

// drain writes whatever was queued before shutdown.
func (q *activityQueue) drain() {
	for {
		select {
		case ev := <-q.pending:
			q.deliver(ev)
		default:
			return
		}
	}
}

// deliver counts a panicking sink as a lost row instead of killing the writer.
func (q *activityQueue) deliver(ev AuditEvent) {
	defer func() {
		if recover() != nil {
			q.lost.Add(1)
		}
	}()
	q.sink.Emit(context.Background(), ev)
}

// push queues ev. When the queue is full it either drops ev (dropFull) or
// waits for room until ctx ends; both outcomes that lose ev are counted.
func (q *activityQueue) push(ctx context.Context, ev AuditEvent) {
	if q == nil || q.stopping.Load() {
		return
	}

	select {
	case q.pending <- ev:
		return
	case <-q.quit:
		return
	default:
	}
	if q.dropFull {
		q.lost.Add(1)
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.pending <- ev:
	case <-ctx.Done():
		q.lost.Add(1)
	case <-q.quit:
	}
}

// shutdown refuses further pushes and returns once the queued rows are written.
func (q *activityQueue) shutdown() {
	if q == nil {
		return
	}
	q.stopOnce.Do(func() {
		q.stopping.Store(true)
		close(q.quit)
		<-q.writerDone
	})
}

// lostCount reports rows dropped on a full queue, abandoned on context
// cancellation, or lost to a panicking sink.
func (q *activityQueue) lostCount() uint64 {
	if q == nil {
		return 0
	}
	return q.lost.Load()
}
