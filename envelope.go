package eventsourcing

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a domain event with the storage concerns that do not
// belong to the event itself: a unique event id, the stream it is appended
// to, free-form metadata, and the store-assigned global position.
type Envelope struct {
	EventID       uuid.UUID
	StreamID      string
	Metadata      map[string]any
	Event         *Event
	Version       uint64
	GlobalVersion uint64
	OccurredAt    time.Time
}

// WrapEvents builds envelopes for a drained pending sequence. The stream
// id is the originator id; version and occurred-at come from the event.
func WrapEvents(events []*Event, metadata map[string]any) []Envelope {
	envelopes := make([]Envelope, len(events))
	for i, e := range events {
		envelopes[i] = Envelope{
			EventID:    uuid.New(),
			StreamID:   e.OriginatorID().String(),
			Metadata:   metadata,
			Event:      e,
			Version:    e.OriginatorVersion(),
			OccurredAt: e.Timestamp(),
		}
	}
	return envelopes
}
