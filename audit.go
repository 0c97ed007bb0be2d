package twofactor

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/twofactor/internal/audit"
)

// AuditEvent is one security event as delivered to sinks.
type AuditEvent = audit.Event

// AuditSink receives every audit event in addition to the activity store.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events on a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// FanoutSink delivers each event to every non-nil sink in order.
type FanoutSink = audit.FanoutSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// activitySink appends events to the ActivityStore. A failed write is
// logged and dropped; it never reaches the caller of the audited operation.
// The dispatcher bounds each write with the persistence timeout.
type activitySink struct {
	store  ActivityStore
	logger *slog.Logger
}

func (s activitySink) Emit(ctx context.Context, event AuditEvent) {
	if s.store == nil || event.UserID == "" {
		return
	}

	if err := s.store.AppendActivity(ctx, activityFromEvent(event)); err != nil {
		s.logger.WarnContext(ctx, "twofactor: activity write failed",
			slog.String("event_type", event.EventType),
			slog.String("user_id", event.UserID),
			slog.Any("error", err),
		)
	}
}

func activityFromEvent(event AuditEvent) ActivityRecord {
	ctx := make(map[string]string, len(event.Context)+4)
	for k, v := range event.Context {
		ctx[k] = v
	}
	if event.IP != "" {
		ctx["ip"] = event.IP
	}
	if event.UserAgent != "" {
		ctx["user_agent"] = event.UserAgent
	}
	if event.RequestID != "" {
		ctx["request_id"] = event.RequestID
	}
	if event.Error != "" {
		ctx["error"] = event.Error
	}
	if len(ctx) == 0 {
		ctx = nil
	}

	return ActivityRecord{
		ID:        event.ID,
		UserID:    event.UserID,
		EventType: event.EventType,
		Success:   event.Success,
		Timestamp: event.Timestamp,
		Context:   ctx,
	}
}
