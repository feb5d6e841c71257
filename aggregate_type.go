package eventsourcing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// createdEventName is the local name of the creation event synthesized for
// aggregate types that declare none of their own.
const createdEventName = "Created"

// EventType describes one kind of event an aggregate type can record: its
// name, its payload schema, whether it is a creation event, and the state
// transition it causes. Event types are bound to exactly one aggregate
// type; binding happens inside NewAggregateType.
type EventType[T Aggregate] struct {
	aggregateType string
	name          string
	schema        *Schema
	creation      bool
	init          func(agg T, e *Event) error
	apply         func(agg T, e *Event)
}

// NewCreationEventType declares an event type that produces a new
// aggregate instance. The init hook plays the role of the aggregate's
// constructor: it receives the freshly built aggregate and the creation
// event's payload. A nil init leaves the domain fields at their zero
// values.
func NewCreationEventType[T Aggregate](name string, schema *Schema, init func(agg T, e *Event) error) *EventType[T] {
	if schema == nil {
		schema = NewSchema()
	}
	return &EventType[T]{name: name, schema: schema, creation: true, init: init}
}

// NewEventType declares a subsequent event type. The apply hook performs
// the state transition against the aggregate's domain fields; a nil apply
// means the event changes nothing beyond version and timestamp.
func NewEventType[T Aggregate](name string, schema *Schema, apply func(agg T, e *Event)) *EventType[T] {
	if schema == nil {
		schema = NewSchema()
	}
	return &EventType[T]{name: name, schema: schema, apply: apply}
}

// Name returns the qualified event type name, e.g. "BankAccount.Opened".
// Before the event type is bound to an aggregate type it returns the bare
// local name.
func (et *EventType[T]) Name() string {
	if et.aggregateType == "" {
		return et.name
	}
	return et.aggregateType + "." + et.name
}

// Schema returns the event type's declared payload schema.
func (et *EventType[T]) Schema() *Schema {
	return et.schema
}

// IsCreation reports whether the event type produces new aggregates.
func (et *EventType[T]) IsCreation() bool {
	return et.creation
}

// AggregateType is the definition-time registry for one aggregate type: it
// binds the type's event types, resolves the canonical creation event, and
// exposes the only entry points through which aggregates of the type are
// created and mutated.
type AggregateType[T Aggregate] struct {
	name     string
	factory  func() T
	events   map[string]*EventType[T]
	ordered  []*EventType[T]
	created  *EventType[T]
	override *EventType[T]
}

// TypeOption configures an AggregateType at definition time.
type TypeOption[T Aggregate] func(*AggregateType[T])

// WithEvents binds event types to the aggregate type.
func WithEvents[T Aggregate](events ...*EventType[T]) TypeOption[T] {
	return func(at *AggregateType[T]) {
		for _, et := range events {
			at.bind(et)
		}
	}
}

// WithCreatedEvent selects the canonical creation event explicitly. An
// explicit selection always wins, even when several creation event types
// are declared. The event type is bound if WithEvents did not already
// bind it.
func WithCreatedEvent[T Aggregate](et *EventType[T]) TypeOption[T] {
	return func(at *AggregateType[T]) {
		if _, bound := at.events[et.name]; !bound {
			at.bind(et)
		}
		at.override = et
	}
}

// NewAggregateType defines an aggregate type. Resolution of the canonical
// creation event happens here, once per type:
//
//   - exactly one bound creation event type: that one is canonical;
//   - none: a default creation event named "<name>.Created" with an empty
//     schema is synthesized;
//   - two or more without WithCreatedEvent: no canonical type exists and
//     Create fails with a ConfigurationError; CreateFromEvent naming one
//     of the candidates still works.
//
// Binding the same event type twice, reusing a bound event type, or naming
// a non-creation event in WithCreatedEvent is a definition defect and
// panics. All bound event types are entered into the package registry so
// stores can rebuild their events by qualified name.
func NewAggregateType[T Aggregate](name string, factory func() T, opts ...TypeOption[T]) *AggregateType[T] {
	if factory == nil {
		panic(fmt.Sprintf("aggregate type %q: nil factory", name))
	}

	at := &AggregateType[T]{
		name:    name,
		factory: factory,
		events:  make(map[string]*EventType[T]),
	}
	for _, opt := range opts {
		opt(at)
	}

	var candidates []*EventType[T]
	for _, et := range at.ordered {
		if et.creation {
			candidates = append(candidates, et)
		}
	}

	switch {
	case at.override != nil:
		if !at.override.creation {
			panic(fmt.Sprintf("aggregate type %q: created event %q is not a creation event", name, at.override.Name()))
		}
		at.created = at.override
	case len(candidates) == 1:
		at.created = candidates[0]
	case len(candidates) == 0:
		at.created = NewCreationEventType[T](createdEventName, nil, nil)
		at.bind(at.created)
	default:
		// Ambiguous; Create reports the defect at the call site.
		at.created = nil
	}

	for _, et := range at.ordered {
		registerEventType(et)
	}

	return at
}

func (at *AggregateType[T]) bind(et *EventType[T]) {
	if et.aggregateType != "" {
		panic(fmt.Sprintf("event type %q already bound to aggregate type %q", et.name, et.aggregateType))
	}
	if _, exists := at.events[et.name]; exists {
		panic(fmt.Sprintf("aggregate type %q: event type %q bound twice", at.name, et.name))
	}
	et.aggregateType = at.name
	at.events[et.name] = et
	at.ordered = append(at.ordered, et)
}

// Name returns the aggregate type name.
func (at *AggregateType[T]) Name() string {
	return at.name
}

// CreatedEvent returns the canonical creation event type, if one resolved.
func (at *AggregateType[T]) CreatedEvent() (*EventType[T], bool) {
	return at.created, at.created != nil
}

// EventTypes returns the bound event types in declaration order.
func (at *AggregateType[T]) EventTypes() []*EventType[T] {
	out := make([]*EventType[T], len(at.ordered))
	copy(out, at.ordered)
	return out
}

// Create builds a new aggregate through the canonical creation event. It
// validates the fields against the creation event's schema, constructs the
// event at version 1 with the current time, applies it, and appends it to
// the new aggregate's pending buffer.
func (at *AggregateType[T]) Create(id uuid.UUID, fields Fields) (T, error) {
	var zero T
	if at.created == nil {
		return zero, &ConfigurationError{
			AggregateType: at.name,
			Reason:        "no canonical creation event set on type",
		}
	}
	return at.CreateFromEvent(at.created, id, fields)
}

// CreateFromEvent builds a new aggregate through an explicitly named
// creation event type. This is the path callers must use when the type
// declares several creation events and none was selected as canonical.
func (at *AggregateType[T]) CreateFromEvent(et *EventType[T], id uuid.UUID, fields Fields) (T, error) {
	var zero T
	if err := at.owns(et); err != nil {
		return zero, err
	}
	if !et.creation {
		return zero, &ConfigurationError{
			AggregateType: at.name,
			Reason:        fmt.Sprintf("event type %q is not a creation event", et.Name()),
		}
	}

	payload, err := et.schema.validate(et.Name(), fields)
	if err != nil {
		return zero, err
	}

	e := &Event{
		name:              et.Name(),
		originatorID:      id,
		originatorVersion: 1,
		timestamp:         now().UTC(),
		creation:          true,
		fields:            payload,
	}

	agg := at.factory()
	if err := initialize(agg, e, initHook(et, agg, e)); err != nil {
		return zero, err
	}
	agg.base().appendPending(e)
	return agg, nil
}

// Trigger records a subsequent event against an existing aggregate. It is
// the only sanctioned way domain operations change aggregate state; domain
// precondition guards belong in the calling operation, before Trigger. The
// event is constructed at the aggregate's next version with the current
// time, applied through the mutation protocol, and appended to the pending
// buffer.
func (at *AggregateType[T]) Trigger(agg T, et *EventType[T], fields Fields) error {
	if err := at.owns(et); err != nil {
		return err
	}
	if et.creation {
		return &ConfigurationError{
			AggregateType: at.name,
			Reason:        fmt.Sprintf("event type %q is a creation event; use Create", et.Name()),
		}
	}

	payload, err := et.schema.validate(et.Name(), fields)
	if err != nil {
		return err
	}

	e := &Event{
		name:              et.Name(),
		originatorID:      agg.ID(),
		originatorVersion: agg.Version() + 1,
		timestamp:         now().UTC(),
		fields:            payload,
	}

	if err := applyTo(agg, e, applyHook(et, agg, e)); err != nil {
		return err
	}
	agg.base().appendPending(e)
	return nil
}

// Rehydrate reconstructs an aggregate by folding an ordered event history
// through the mutation protocol. The history must start with a creation
// event at version 1; every later event must continue the version sequence
// exactly, or a VersionError is returned. Rehydrated events do not enter
// the pending buffer.
func (at *AggregateType[T]) Rehydrate(events []*Event) (T, error) {
	var zero T
	if len(events) == 0 {
		return zero, fmt.Errorf("rehydrate %q: %w", at.name, ErrEmptyHistory)
	}

	first := events[0]
	et, ok := at.eventTypeFor(first.name)
	if !ok {
		return zero, fmt.Errorf("rehydrate %q: event %q: %w", at.name, first.name, ErrEventNotRegistered)
	}
	if !et.creation {
		return zero, fmt.Errorf("rehydrate %q: history does not start with a creation event, got %q", at.name, first.name)
	}
	if first.originatorVersion != 1 {
		return zero, &VersionError{Stream: first.originatorID.String(), Expected: 1, Actual: first.originatorVersion}
	}

	agg := at.factory()
	if err := initialize(agg, first, initHook(et, agg, first)); err != nil {
		return zero, err
	}

	for _, e := range events[1:] {
		et, ok := at.eventTypeFor(e.name)
		if !ok {
			return zero, fmt.Errorf("rehydrate %q: event %q: %w", at.name, e.name, ErrEventNotRegistered)
		}
		if et.creation {
			return zero, fmt.Errorf("rehydrate %q: creation event %q after version 1", at.name, e.name)
		}
		if err := applyTo(agg, e, applyHook(et, agg, e)); err != nil {
			return zero, err
		}
	}
	return agg, nil
}

func (at *AggregateType[T]) owns(et *EventType[T]) error {
	if et == nil {
		return &ConfigurationError{AggregateType: at.name, Reason: "nil event type"}
	}
	if bound, ok := at.events[et.name]; !ok || bound != et {
		return &ConfigurationError{
			AggregateType: at.name,
			Reason:        fmt.Sprintf("event type %q is not bound to this aggregate type", et.Name()),
		}
	}
	return nil
}

func (at *AggregateType[T]) eventTypeFor(qualified string) (*EventType[T], bool) {
	local, ok := strings.CutPrefix(qualified, at.name+".")
	if !ok {
		return nil, false
	}
	et, ok := at.events[local]
	return et, ok
}

func initHook[T Aggregate](et *EventType[T], agg T, e *Event) func() error {
	if et.init == nil {
		return nil
	}
	return func() error { return et.init(agg, e) }
}

func applyHook[T Aggregate](et *EventType[T], agg T, e *Event) func() {
	if et.apply == nil {
		return nil
	}
	return func() { et.apply(agg, e) }
}
