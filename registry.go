package eventsourcing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// eventTypeRef is the type-erased view of an EventType that serializing
// stores use to rebuild events by qualified name.
type eventTypeRef interface {
	Name() string
	Schema() *Schema
	IsCreation() bool
}

var (
	// registry maps qualified event type names to their descriptors.
	registry = map[string]eventTypeRef{}

	// registryMu protects the registry for concurrent lookups.
	registryMu sync.RWMutex
)

// registerEventType enters a bound event type into the registry. A
// qualified name registered twice is a definition defect.
func registerEventType(ref eventTypeRef) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := ref.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("event type already registered: %s", name))
	}
	registry[name] = ref
}

// LookupEventSchema returns the declared payload schema of a registered
// event type.
func LookupEventSchema(name string) (*Schema, bool) {
	registryMu.RLock()
	ref, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return ref.Schema(), true
}

// NewStoredEvent rebuilds an Event from its stored representation. The
// qualified name is looked up in the registry and the raw payload is
// decoded against the declared schema, coercing JSON-typed values back
// into the declared field types.
func NewStoredEvent(name string, originatorID uuid.UUID, originatorVersion uint64, timestamp time.Time, raw map[string]any) (*Event, error) {
	registryMu.RLock()
	ref, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrEventNotRegistered)
	}

	fields, err := ref.Schema().decode(name, raw)
	if err != nil {
		return nil, err
	}

	return &Event{
		name:              name,
		originatorID:      originatorID,
		originatorVersion: originatorVersion,
		timestamp:         timestamp,
		creation:          ref.IsCreation(),
		fields:            fields,
	}, nil
}
