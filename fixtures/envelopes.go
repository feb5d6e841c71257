package fixtures

import (
	"time"

	"github.com/google/uuid"

	es "github.com/corefold/eventsourcing"
)

// EnvelopeOption configures an envelope built by NewEnvelope.
type EnvelopeOption func(*es.Envelope)

// NewEnvelope wraps an event in an envelope with sensible defaults: a
// fresh event id, the event's originator as stream id, and the event's
// version and timestamp.
func NewEnvelope(event *es.Event, opts ...EnvelopeOption) *es.Envelope {
	env := &es.Envelope{
		EventID:       uuid.New(),
		StreamID:      event.OriginatorID().String(),
		Event:         event,
		Version:       event.OriginatorVersion(),
		GlobalVersion: event.OriginatorVersion(),
		OccurredAt:    event.Timestamp(),
		Metadata:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// WithEventID sets a specific event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *es.Envelope) { e.EventID = id }
}

// WithStreamID overrides the stream id.
func WithStreamID(id string) EnvelopeOption {
	return func(e *es.Envelope) { e.StreamID = id }
}

// WithGlobalVersion sets the global position.
func WithGlobalVersion(v uint64) EnvelopeOption {
	return func(e *es.Envelope) { e.GlobalVersion = v }
}

// WithTimestamp sets the occurred-at timestamp.
func WithTimestamp(t time.Time) EnvelopeOption {
	return func(e *es.Envelope) { e.OccurredAt = t }
}

// WithMetadata sets the entire metadata map.
func WithMetadata(m map[string]any) EnvelopeOption {
	return func(e *es.Envelope) { e.Metadata = m }
}

// WithMetadataField adds a single metadata field.
func WithMetadataField(key string, value any) EnvelopeOption {
	return func(e *es.Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// Envelopes wraps a sequence of events from one aggregate, assigning
// sequential global positions starting at 1.
func Envelopes(events ...*es.Event) []*es.Envelope {
	out := make([]*es.Envelope, len(events))
	for i, event := range events {
		out[i] = NewEnvelope(event, WithGlobalVersion(uint64(i+1)))
	}
	return out
}
