package logging

import (
	"context"
	"log/slog"

	"github.com/corefold/eventsourcing"
)

// WithLoggingMiddleware wraps an event handler with structured logging of
// each processed event.
func WithLoggingMiddleware(logger *slog.Logger, next eventsourcing.EventHandler) eventsourcing.EventHandler {
	return eventsourcing.NewEventHandlerFunc(func(ctx context.Context, env *eventsourcing.Envelope) error {
		l := logger.With(
			"stream-id", env.StreamID,
			"event", env.Event.Name(),
			"version", env.Version,
			"global-version", env.GlobalVersion,
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, env)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
