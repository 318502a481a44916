package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-access"
)

const (
	// MetadataKeyActorType stores the actor type derived from access.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromStatus stores the source doctor status for lifecycle transitions.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target doctor status for lifecycle transitions.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel    = "access"
	defaultObjectType = "user"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity record. Tenant carries the
// hospital id so downstream stores can partition by hospital.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Tenant     string         `json:"tenant,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(access.ActivityEvent) string
	now              func() time.Time
}

// Normalize converts an access.ActivityEvent into the normalized shape.
func Normalize(event access.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectTypeFor(event, options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Tenant:     strings.TrimSpace(event.HospitalID),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the object type used for user scoped events.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object id extraction.
func WithObjectIDResolver(resolver func(access.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor id fallback when actor and user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the clock used when an event has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// Publisher receives normalized records.
type Publisher interface {
	Publish(ctx context.Context, record Normalized) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, record Normalized) error

func (f PublisherFunc) Publish(ctx context.Context, record Normalized) error {
	return f(ctx, record)
}

// Sink normalizes every event before handing it to a Publisher.
func Sink(publisher Publisher, opts ...Option) access.ActivitySink {
	return access.ActivitySinkFunc(func(ctx context.Context, event access.ActivityEvent) error {
		if publisher == nil {
			return nil
		}
		return publisher.Publish(ctx, Normalize(event, opts...))
	})
}

// LogPublisher writes normalized records to logger at info level.
func LogPublisher(logger access.Logger) Publisher {
	if logger == nil {
		logger = access.NopLogger()
	}
	return PublisherFunc(func(_ context.Context, record Normalized) error {
		logger.Info("activity",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"tenant", record.Tenant,
			"channel", record.Channel,
			"metadata", record.Metadata,
		)
		return nil
	})
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

// objectTypeFor reports hospital registrations against the hospital.
func objectTypeFor(event access.ActivityEvent, fallback string) string {
	if event.EventType == access.ActivityEventHospitalRegistered {
		return "hospital"
	}
	return fallback
}

func resolveObjectID(event access.ActivityEvent, resolver func(access.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	if event.EventType == access.ActivityEventHospitalRegistered {
		return strings.TrimSpace(event.HospitalID)
	}
	return strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event access.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)
	set := func(key, value string, overwrite bool) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; exists && !overwrite {
			return
		}
		metadata[key] = value
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(MetadataKeyFromStatus, string(event.FromStatus), true)
	set(MetadataKeyToStatus, string(event.ToStatus), true)

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
