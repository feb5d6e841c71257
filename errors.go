package eventsourcing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStreamNotFound is returned when loading a stream that has no events.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamExists is returned when appending with NoStream to a stream
	// that already has events.
	ErrStreamExists = errors.New("stream already exists")

	// ErrInvalidRevision is returned when a load or append names a revision
	// the stream cannot satisfy.
	ErrInvalidRevision = errors.New("invalid revision")

	// ErrInvalidEventBatch is returned when a single append mixes streams.
	ErrInvalidEventBatch = errors.New("invalid event batch")

	// ErrStoreClosed is returned when using an event store after Close.
	ErrStoreClosed = errors.New("event store is closed")

	// ErrEventNotRegistered is returned when rebuilding a stored event whose
	// type name is unknown to the registry.
	ErrEventNotRegistered = errors.New("event type not registered")

	// ErrEmptyHistory is returned when rehydrating from no events.
	ErrEmptyHistory = errors.New("empty event history")

	// ErrDuplicateHandler is returned when two handlers claim the same event name.
	ErrDuplicateHandler = errors.New("duplicate handler")
)

// ConfigurationError reports a declaration defect on an aggregate type,
// such as an ambiguous or absent canonical creation event. It is not
// retryable.
type ConfigurationError struct {
	AggregateType string
	Reason        string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("aggregate type %q: %s", e.AggregateType, e.Reason)
}

// ConstructionError reports that the supplied fields do not match an event
// type's declared schema, or that an aggregate initializer rejected a
// creation event. It is not retryable.
type ConstructionError struct {
	EventType  string
	Missing    []string
	Unexpected []string
	Mismatched []string
	Cause      error
}

func (e *ConstructionError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected fields: "+strings.Join(e.Unexpected, ", "))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, "mismatched fields: "+strings.Join(e.Mismatched, ", "))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return fmt.Sprintf("unable to construct event %q: %s", e.EventType, strings.Join(parts, "; "))
}

func (e *ConstructionError) Unwrap() error {
	return e.Cause
}

// VersionError reports an optimistic-concurrency conflict: an event's
// originator version does not continue the aggregate's current version, or
// an append's expected revision does not match the stream. This is the one
// error kind that is an expected runtime condition; the caller may reload
// and retry.
type VersionError struct {
	Stream   string
	Expected uint64
	Actual   uint64
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("version conflict on stream %q: expected %d, actual %d",
		e.Stream, e.Expected, e.Actual)
}

// ErrSkippedEvent is returned when no handler claims the event's type name.
type ErrSkippedEvent struct {
	Event *Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %q", e.Event.Name())
}

// EventStoreError wraps a store-specific persistence failure.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

// WrapEventStoreError wraps err in an EventStoreError, passing nil through.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &EventStoreError{Err: err}
}
