package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/corefold/eventsourcing"
)

// WithEventTelemetry wraps an event handler with a span and metrics per
// handled event. A skipped event is not an error.
func WithEventTelemetry(next eventsourcing.EventHandler) eventsourcing.EventHandler {
	return eventsourcing.NewEventHandlerFunc(func(ctx context.Context, env *eventsourcing.Envelope) error {
		eventType := env.Event.Name()
		attr := []attribute.KeyValue{
			AttrEventType.String(eventType),
			AttrEventID.String(env.EventID.String()),
			AttrEventGlobalPos.Int64(int64(env.GlobalVersion)),
			AttrEventStreamPos.Int64(int64(env.Version)),
			AttrStreamID.String(env.StreamID),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", eventType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		HandlerInvocations.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))

		start := time.Now()
		err := next.Handle(ctx, env)
		HandlerDuration.Record(ctx,
			float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(AttrEventType.String(eventType)),
		)

		if err != nil {
			var skipped *eventsourcing.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
			} else {
				HandlerErrors.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType)))
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	})
}
