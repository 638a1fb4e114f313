package shopagent

import (
	"context"
	"time"
)

// ActivityEventType enumerates the recorded session activities.
type ActivityEventType string

const (
	ActivityEventSignIn             ActivityEventType = "session.sign_in"
	ActivityEventSignInFailure      ActivityEventType = "session.sign_in.failure"
	ActivityEventSignUp             ActivityEventType = "session.sign_up"
	ActivityEventSignUpWarning      ActivityEventType = "session.sign_up.warning"
	ActivityEventSignOut            ActivityEventType = "session.sign_out"
	ActivityEventVerificationResent ActivityEventType = "session.verification.resent"
	ActivityEventStateWritten       ActivityEventType = "session.state.written"
	ActivityEventProductCaptured    ActivityEventType = "product.captured"
)

// ActivityEvent captures audit friendly information about a session action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Method     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing or telemetry.
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

// NormalizeActivitySink returns s, or a no-op sink when s is nil.
func NormalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// RecordActivity stamps and records event, logging sink failures.
func RecordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink record failed",
			"error", err,
			"event", string(event.EventType),
		)
	}
}
