package memory

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corefold/eventsourcing"
)

var _ eventsourcing.EventStore = (*MemoryStore)(nil)

// MemoryStore is the reference EventStore: streams held in memory with the
// revision checks enforced under one lock. Saved envelopes are additionally
// offered on a buffered channel for consumers that want a live feed.
type MemoryStore struct {
	tracer    trace.Tracer
	mu        sync.RWMutex
	bus       chan *eventsourcing.Envelope
	closed    bool
	globalSeq uint64
	global    []*eventsourcing.Envelope
	events    map[string][]*eventsourcing.Envelope
}

// NewMemoryStore creates a store whose live feed holds up to buffer
// envelopes; envelopes beyond that are dropped, not blocked on.
func NewMemoryStore(buffer int64) *MemoryStore {
	return &MemoryStore{
		tracer: otel.Tracer("eventsourcing.eventstore.memory"),
		events: make(map[string][]*eventsourcing.Envelope),
		global: make([]*eventsourcing.Envelope, 0),
		bus:    make(chan *eventsourcing.Envelope, buffer),
	}
}

func (m *MemoryStore) Save(ctx context.Context, events []eventsourcing.Envelope, state eventsourcing.StreamState) (eventsourcing.AppendResult, error) {
	_, span := m.tracer.Start(ctx, "eventstore.save",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		err := fmt.Errorf("save events: %w", eventsourcing.ErrStoreClosed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return eventsourcing.AppendResult{Successful: false}, err
	}

	if len(events) == 0 {
		return eventsourcing.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return eventsourcing.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has different stream ID %q",
				streamID, eventsourcing.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	currentVersion := uint64(len(m.events[streamID]))

	switch rev := state.(type) {
	case eventsourcing.Any:
		// No concurrency check.
	case eventsourcing.NoStream:
		if currentVersion != 0 {
			err := fmt.Errorf("stream %q: %w", streamID, eventsourcing.ErrStreamExists)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return eventsourcing.AppendResult{Successful: false}, err
		}
	case eventsourcing.StreamExists:
		if currentVersion == 0 {
			err := fmt.Errorf("stream %q: %w", streamID, eventsourcing.ErrStreamNotFound)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return eventsourcing.AppendResult{Successful: false}, err
		}
	case eventsourcing.Revision:
		if currentVersion != uint64(rev) {
			err := &eventsourcing.VersionError{
				Stream:   streamID,
				Expected: uint64(rev),
				Actual:   currentVersion,
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return eventsourcing.AppendResult{Successful: false}, err
		}
	default:
		err := fmt.Errorf("unsupported stream state for stream %q: %w", streamID, eventsourcing.ErrInvalidRevision)
		return eventsourcing.AppendResult{Successful: false}, err
	}

	for i := range events {
		m.globalSeq++
		events[i].GlobalVersion = m.globalSeq
		m.events[streamID] = append(m.events[streamID], &events[i])
		m.global = append(m.global, &events[i])
		currentVersion++

		span.AddEvent("stored event",
			trace.WithAttributes(
				attribute.String("event.stream_id", streamID),
				attribute.String("event.type", events[i].Event.Name()),
				attribute.Int64("event.version", int64(events[i].Version)),
			),
		)

		select {
		case m.bus <- &events[i]:
		default:
			// Drop if the feed is full.
		}
	}

	return eventsourcing.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: currentVersion,
	}, nil
}

func (m *MemoryStore) LoadStream(ctx context.Context, id string) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	return m.LoadStreamFrom(ctx, id, 0)
}

func (m *MemoryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	_, span := m.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("event.stream_id", id),
			attribute.Int64("from_version", int64(version)),
		),
	)
	defer span.End()

	m.mu.RLock()
	closed := m.closed
	events, exists := m.events[id]
	m.mu.RUnlock()

	if closed {
		err := fmt.Errorf("load stream %q: %w", id, eventsourcing.ErrStoreClosed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !exists {
		err := fmt.Errorf("load stream %q: %w", id, eventsourcing.ErrStreamNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if version > uint64(len(events)) {
		err := fmt.Errorf("load stream %q: requested version %d but stream has %d: %w",
			id, version, len(events), eventsourcing.ErrInvalidRevision)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return eventsourcing.NewSliceIterator(events[version:]), nil
}

func (m *MemoryStore) LoadFromAll(ctx context.Context, position uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("load all: %w", eventsourcing.ErrStoreClosed)
	}
	if position > uint64(len(m.global)) {
		return nil, fmt.Errorf("load all from %d but store has %d: %w",
			position, len(m.global), eventsourcing.ErrInvalidRevision)
	}

	return eventsourcing.NewSliceIterator(m.global[position:]), nil
}

// Events returns the live feed of saved envelopes.
func (m *MemoryStore) Events() <-chan *eventsourcing.Envelope {
	return m.bus
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.events = make(map[string][]*eventsourcing.Envelope)
	m.global = nil
	close(m.bus)
	return nil
}
