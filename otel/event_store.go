package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/corefold/eventsourcing"
)

var _ eventsourcing.EventStore = (*TelemetryStore)(nil)

// TelemetryStore decorates an event store with spans and metrics. Saves
// additionally inject the current trace context into the envelope metadata
// so downstream consumers can join the trace.
type TelemetryStore struct {
	next eventsourcing.EventStore
}

func WithEventStoreTelemetry(next eventsourcing.EventStore) *TelemetryStore {
	return &TelemetryStore{next: next}
}

func (t *TelemetryStore) Save(ctx context.Context, events []eventsourcing.Envelope, state eventsourcing.StreamState) (eventsourcing.AppendResult, error) {
	var streamID string
	if len(events) > 0 {
		streamID = events[0].StreamID
	}

	ctx, span := tracer.Start(ctx, "EventStore.Save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("save"),
			AttrStreamID.String(streamID),
			AttrEventCount.Int(len(events)),
			AttrEventStreamPos.String(fmt.Sprintf("%T", state)),
		),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 || span.SpanContext().HasTraceID() {
		for i := range events {
			if events[i].Metadata == nil {
				events[i].Metadata = make(map[string]any)
			}
			if span.SpanContext().HasTraceID() {
				events[i].Metadata["correlationId"] = span.SpanContext().TraceID().String()
			}
			for key, value := range carrier {
				events[i].Metadata[key] = value
			}
		}
	}

	start := time.Now()
	result, err := t.next.Save(ctx, events, state)

	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("save")),
	)
	EventStoreSaves.Add(ctx, 1)

	if err != nil {
		var verr *eventsourcing.VersionError
		if errors.As(err, &verr) {
			ConcurrencyConflicts.Add(ctx, 1)
		}
		EventStoreErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	EventsAppended.Add(ctx, int64(len(events)))
	span.SetAttributes(AttrStreamVersion.Int64(int64(result.NextExpectedVersion)))
	return result, nil
}

func (t *TelemetryStore) LoadStream(ctx context.Context, id string) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	iter, err := t.next.LoadStream(ctx, id)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIteration("EventStore.LoadStream", id, iter), nil
}

func (t *TelemetryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	iter, err := t.next.LoadStreamFrom(ctx, id, version)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIteration("EventStore.LoadStreamFrom", id, iter), nil
}

func (t *TelemetryStore) LoadFromAll(ctx context.Context, position uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	iter, err := t.next.LoadFromAll(ctx, position)
	if err != nil {
		EventStoreErrors.Add(ctx, 1)
		return iter, err
	}
	return t.traceIteration("EventStore.LoadFromAll", "$all", iter), nil
}

// traceIteration wraps an iterator so the span covers the whole pull: it
// opens on the first Next and closes when the sequence ends either way.
func (t *TelemetryStore) traceIteration(operation, id string, iter *eventsourcing.Iterator[*eventsourcing.Envelope]) *eventsourcing.Iterator[*eventsourcing.Envelope] {
	started := false
	var startedAt time.Time
	var span trace.Span
	var count int64

	return eventsourcing.NewIteratorFunc(func(ctx context.Context) (*eventsourcing.Envelope, error) {
		if !started {
			started = true
			startedAt = time.Now()
			ctx, span = tracer.Start(ctx, operation,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(AttrStreamID.String(id)),
			)
		}

		if !iter.Next(ctx) {
			span.SetAttributes(AttrEventCount.Int64(count))

			if err := iter.Err(); err != nil {
				EventStoreErrors.Add(ctx, 1)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return nil, err
			}

			EventStoreDuration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
				metric.WithAttributes(AttrOperation.String("load")),
			)
			span.End()
			return nil, io.EOF
		}

		count++
		EventsLoaded.Add(ctx, 1)
		return iter.Value(), nil
	})
}

func (t *TelemetryStore) Close() error {
	return t.next.Close()
}
