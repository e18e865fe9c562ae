// Package activitymap turns session activity events into flat audit
// records and ships them to a logger.
package activitymap

import (
	"context"
	"strings"
	"time"

	authclient "github.com/goliatone/go-auth-client"
)

const (
	// MetadataKeyReason stores why a guard or refresh failed
	MetadataKeyReason = "reason"
	// MetadataKeyOutcome is "success" or "failure" for login and refresh events
	MetadataKeyOutcome = "outcome"
)

const (
	defaultChannel    = "session"
	defaultObjectType = "admin_session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport agnostic activity record
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
}

// Normalize converts a session event into a Normalized record. The source
// metadata is copied, never modified.
func Normalize(event authclient.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Username), options.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the channel for normalized records
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the object type for normalized records
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when the event has no username
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// LogSink returns an ActivitySink that writes every event to logger at info
// level as one normalized record.
func LogSink(logger authclient.Logger, opts ...Option) authclient.ActivitySink {
	return authclient.ActivitySinkFunc(func(_ context.Context, event authclient.ActivityEvent) error {
		n := Normalize(event, opts...)
		logger.Info("session activity",
			"actor_id", n.ActorID,
			"verb", n.Verb,
			"object_type", n.ObjectType,
			"channel", n.Channel,
			"metadata", n.Metadata,
			"occurred_at", n.OccurredAt,
		)
		return nil
	})
}

func normalizeMetadata(event authclient.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	outcome := ""
	switch event.EventType {
	case authclient.ActivityEventLoginSuccess, authclient.ActivityEventRefreshSuccess:
		outcome = "success"
	case authclient.ActivityEventLoginFailure, authclient.ActivityEventRefreshFailure, authclient.ActivityEventGuardDenied:
		outcome = "failure"
	}

	if outcome != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyOutcome]; !exists {
			metadata[MetadataKeyOutcome] = outcome
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
