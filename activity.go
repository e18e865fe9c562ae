package authclient

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported session events.
type ActivityEventType string

const (
	ActivityEventLoginSuccess   ActivityEventType = "session.login.success"
	ActivityEventLoginFailure   ActivityEventType = "session.login.failure"
	ActivityEventRefreshSuccess ActivityEventType = "session.refresh.success"
	ActivityEventRefreshFailure ActivityEventType = "session.refresh.failure"
	ActivityEventLogout         ActivityEventType = "session.logout"
	ActivityEventGuardDenied    ActivityEventType = "session.guard.denied"
)

// ActivityEvent captures audit-friendly information about a session change.
type ActivityEvent struct {
	EventType  ActivityEventType
	Username   string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes session events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// emitActivity runs best-effort, sink errors are only logged
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, eventType ActivityEventType, username string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Username:   username,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Error("activity sink failed", "event", eventType, "error", err)
	}
}
