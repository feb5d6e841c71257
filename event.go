package eventsourcing

import (
	"time"

	"github.com/google/uuid"
)

var now = time.Now

// Fields carries the domain-specific payload of one event, keyed by field
// name. The always-present originator id, originator version and timestamp
// are not part of the payload; the mutation protocol supplies them.
type Fields map[string]any

// Event is one immutable fact recorded against a single aggregate. Its
// originator version, together with the originator id, identifies its
// position in the aggregate's event sequence. Events are constructed by
// the aggregate type's entry points (or rebuilt from storage via
// NewStoredEvent) and never modified afterwards.
type Event struct {
	name              string
	originatorID      uuid.UUID
	originatorVersion uint64
	timestamp         time.Time
	creation          bool
	fields            Fields
}

// Name returns the qualified event type name, e.g. "BankAccount.Opened".
func (e *Event) Name() string {
	return e.name
}

// OriginatorID returns the id of the aggregate the event belongs to.
func (e *Event) OriginatorID() uuid.UUID {
	return e.originatorID
}

// OriginatorVersion returns the version the aggregate has immediately
// after this event is applied.
func (e *Event) OriginatorVersion() uint64 {
	return e.originatorVersion
}

// Timestamp returns the point in time the event was recorded.
func (e *Event) Timestamp() time.Time {
	return e.timestamp
}

// IsCreation reports whether this event starts a new aggregate.
func (e *Event) IsCreation() bool {
	return e.creation
}

// Fields returns a copy of the event's payload fields.
func (e *Event) Fields() Fields {
	out := make(Fields, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Field returns a single payload field by name.
func (e *Event) Field(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// Get returns a payload field as type T. The schema validated the value at
// construction time, so a field declared Int is always an int64, a field
// declared Decimal is always a decimal.Decimal, and so on. A name that is
// not part of the schema, or a wrong T, yields the zero value.
func Get[T any](e *Event, name string) T {
	v, _ := e.fields[name].(T)
	return v
}
