// Package activitymap turns shopagent activity events into a flat record
// shape for logs and downstream audit systems.
package activitymap

import (
	"context"
	"strings"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
)

const (
	// MetadataKeyMethod stores the sign-in method of the event.
	MetadataKeyMethod = "method"
	// MetadataKeyCaptureKey is the capture key of product events.
	MetadataKeyCaptureKey = "key"
)

const (
	defaultActorID = "system"

	channelSession = "session"
	channelProduct = "product"

	objectUser    = "user"
	objectProduct = "product"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts event into a Normalized record. Product events use
// the capture key as object id and the product channel, everything else
// is a session event on the user.
func Normalize(event shopagent.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{actorFallback: defaultActorID, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	userID := strings.TrimSpace(event.UserID)
	out := Normalized{
		ActorID:    firstNonEmpty(userID, options.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: objectUser,
		ObjectID:   userID,
		Channel:    channelSession,
		Metadata:   normalizeMetadata(event),
		OccurredAt: event.OccurredAt,
	}

	if isProductEvent(event.EventType) {
		out.ObjectType = objectProduct
		out.Channel = channelProduct
		if key, ok := event.Metadata[MetadataKeyCaptureKey].(string); ok {
			out.ObjectID = key
		}
	}
	if options.channel != "" {
		out.Channel = options.channel
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = options.now().UTC()
	}
	return out
}

// WithChannel forces the channel of every record.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

// WithClock stamps events without OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// NewLogSink returns an ActivitySink writing every normalized record to
// logger.
func NewLogSink(logger shopagent.Logger, opts ...Option) shopagent.ActivitySink {
	if logger == nil {
		logger = shopagent.DefaultLogger()
	}
	return shopagent.ActivitySinkFunc(func(_ context.Context, event shopagent.ActivityEvent) error {
		record := Normalize(event, opts...)
		logger.Info("activity",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"channel", record.Channel,
			"metadata", record.Metadata,
		)
		return nil
	})
}

func isProductEvent(eventType shopagent.ActivityEventType) bool {
	return strings.HasPrefix(string(eventType), channelProduct+".")
}

func normalizeMetadata(event shopagent.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if method := strings.TrimSpace(event.Method); method != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyMethod]; !exists {
			metadata[MetadataKeyMethod] = method
		}
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
