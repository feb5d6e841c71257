package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/corefold/eventsourcing"
)

var _ eventsourcing.EventStore = (*EventStore)(nil)

// EventStore decorates another store with structured logging of saves and
// loads, including their durations.
type EventStore struct {
	logger *slog.Logger
	next   eventsourcing.EventStore
}

func WithEventStoreLogging(logger *slog.Logger, next eventsourcing.EventStore) *EventStore {
	return &EventStore{logger: logger, next: next}
}

func (s *EventStore) Save(ctx context.Context, events []eventsourcing.Envelope, state eventsourcing.StreamState) (eventsourcing.AppendResult, error) {
	start := time.Now()
	result, err := s.next.Save(ctx, events, state)

	l := s.logger.With(
		"stream-id", result.StreamID,
		"event-count", len(events),
		"duration", time.Since(start),
	)
	if err != nil {
		l.ErrorContext(ctx, "saving events failed", "error", err)
		return result, err
	}
	l.DebugContext(ctx, "events saved", "next-expected-version", result.NextExpectedVersion)
	return result, nil
}

func (s *EventStore) LoadStream(ctx context.Context, id string) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	start := time.Now()
	iter, err := s.next.LoadStream(ctx, id)
	s.logLoad(ctx, "load stream", id, 0, start, err)
	return iter, err
}

func (s *EventStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	start := time.Now()
	iter, err := s.next.LoadStreamFrom(ctx, id, version)
	s.logLoad(ctx, "load stream from version", id, version, start, err)
	return iter, err
}

func (s *EventStore) LoadFromAll(ctx context.Context, position uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	start := time.Now()
	iter, err := s.next.LoadFromAll(ctx, position)
	s.logLoad(ctx, "load all streams", "$all", position, start, err)
	return iter, err
}

func (s *EventStore) logLoad(ctx context.Context, msg, id string, from uint64, start time.Time, err error) {
	l := s.logger.With(
		"stream-id", id,
		"from-version", from,
		"duration", time.Since(start),
	)
	if err != nil {
		l.ErrorContext(ctx, msg+" failed", "error", err)
		return
	}
	l.DebugContext(ctx, msg)
}

func (s *EventStore) Close() error {
	return s.next.Close()
}
