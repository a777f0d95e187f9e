package andyweb

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/CallMeChewy/AndyWeb/internal/logging"
)

// AuditEvent is one entry of the activity trail. UserID and SessionID are
// zero when unknown.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    int64             `json:"user_id,omitempty"`
	SessionID int64             `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the dispatcher. Emit must not panic; errors
// are the sink's to report.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ActivitySink appends events to an ActivityStore. Write failures are logged
// as warnings and otherwise dropped.
type ActivitySink struct {
	store  ActivityStore
	logger logging.Logger
}

func NewActivitySink(store ActivityStore, logger logging.Logger) *ActivitySink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ActivitySink{store: store, logger: logger}
}

func (s *ActivitySink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.AppendActivity(ctx, activityFromEvent(event)); err != nil {
		s.logger.Warn(ctx, "activity log write failed",
			"event_type", event.EventType,
			"user_id", event.UserID,
			"error", err,
		)
	}
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, event AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

func activityFromEvent(event AuditEvent) ActivityRecord {
	data := make(map[string]string, len(event.Metadata)+3)
	for k, v := range event.Metadata {
		data[k] = v
	}
	data["success"] = strconv.FormatBool(event.Success)
	if event.Error != "" {
		data["error"] = event.Error
	}
	if event.SessionID != 0 {
		data["session_id"] = strconv.FormatInt(event.SessionID, 10)
	}
	return ActivityRecord{
		UserID:    event.UserID,
		Type:      event.EventType,
		Data:      data,
		IPAddress: event.IP,
		UserAgent: event.UserAgent,
		CreatedAt: event.Timestamp,
	}
}
