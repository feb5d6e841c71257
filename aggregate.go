package eventsourcing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Aggregate is the interface all event-sourced aggregates implement. It is
// satisfied by embedding Base; the unexported hook keeps the mutation
// protocol the only way aggregate identity, version and timestamps change.
type Aggregate interface {

	// ID returns the unique identifier of the aggregate, fixed at creation.
	ID() uuid.UUID

	// Version returns the number of events applied to the aggregate.
	Version() uint64

	// CreatedOn returns the timestamp of the creation event.
	CreatedOn() time.Time

	// ModifiedOn returns the timestamp of the most recently applied event.
	ModifiedOn() time.Time

	// CollectEvents drains the pending-event buffer: it returns all events
	// applied since the last call, in application order, and clears the
	// buffer. The drained events are the caller's to persist.
	CollectEvents() []*Event

	base() *Base
}

// Base carries the state every aggregate shares. Embed it in a domain
// struct to make that struct an Aggregate.
type Base struct {
	id         uuid.UUID
	version    uint64
	createdOn  time.Time
	modifiedOn time.Time
	pending    []*Event
}

// ID implements the ID method of the Aggregate interface.
func (b *Base) ID() uuid.UUID {
	return b.id
}

// Version implements the Version method of the Aggregate interface.
func (b *Base) Version() uint64 {
	return b.version
}

// CreatedOn implements the CreatedOn method of the Aggregate interface.
func (b *Base) CreatedOn() time.Time {
	return b.createdOn
}

// ModifiedOn implements the ModifiedOn method of the Aggregate interface.
func (b *Base) ModifiedOn() time.Time {
	return b.modifiedOn
}

// CollectEvents implements the CollectEvents method of the Aggregate
// interface. A second call returns an empty sequence.
func (b *Base) CollectEvents() []*Event {
	pending := b.pending
	b.pending = nil
	return pending
}

func (b *Base) base() *Base {
	return b
}

func (b *Base) appendPending(e *Event) {
	b.pending = append(b.pending, e)
}

// initialize runs the creation half of the mutation protocol: the new
// aggregate takes its id from the event, its version from the event's
// originator version (always 1 by construction), and both timestamps from
// the event. The event type's initializer then runs over the payload; a
// rejection surfaces as a ConstructionError and the aggregate is discarded.
func initialize(agg Aggregate, e *Event, init func() error) error {
	b := agg.base()
	b.id = e.originatorID
	b.version = e.originatorVersion
	b.createdOn = e.timestamp
	b.modifiedOn = e.timestamp
	if init != nil {
		if err := init(); err != nil {
			return &ConstructionError{EventType: e.name, Cause: err}
		}
	}
	return nil
}

// applyTo runs the mutation protocol for a subsequent event: the event's
// originator version must equal the aggregate's version plus one, exactly.
// On success the version and modification timestamp advance and the event
// type's apply hook runs; on a version mismatch the aggregate is left
// untouched and a VersionError is returned. An originator-id mismatch is a
// programming fault and panics.
func applyTo(agg Aggregate, e *Event, apply func()) error {
	b := agg.base()
	if e.originatorID != b.id {
		panic(fmt.Sprintf("event %q for originator %s applied to aggregate %s",
			e.name, e.originatorID, b.id))
	}
	if e.originatorVersion != b.version+1 {
		return &VersionError{
			Stream:   b.id.String(),
			Expected: b.version + 1,
			Actual:   e.originatorVersion,
		}
	}
	b.version = e.originatorVersion
	b.modifiedOn = e.timestamp
	if apply != nil {
		apply()
	}
	return nil
}
