package eventsourcing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/corefold/eventsourcing"

var (
	meter metric.Meter

	// Event metrics
	EventsAppended metric.Int64Counter
	EventsLoaded   metric.Int64Counter

	// Aggregate metrics
	AggregatesRehydrated metric.Int64Counter
	EventsCollected      metric.Int64Counter

	// System metrics
	VersionConflicts metric.Int64Counter

	// Initialization
	once        sync.Once
	initErr     error
	initialized bool
)

// Init initializes the global metrics.
// Call this once at application startup.
func Init() error {
	once.Do(func() {
		meter = otel.Meter(instrumentationName)
		initErr = initializeMetrics()
		if initErr == nil {
			initialized = true
		}
	})
	return initErr
}

func initializeMetrics() error {
	var err error

	EventsAppended, err = meter.Int64Counter(
		"eventsourcing.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	EventsLoaded, err = meter.Int64Counter(
		"eventsourcing.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	AggregatesRehydrated, err = meter.Int64Counter(
		"eventsourcing.aggregates.rehydrated",
		metric.WithDescription("Number of aggregates reconstructed from history"),
		metric.WithUnit("{aggregate}"),
	)
	if err != nil {
		return err
	}

	EventsCollected, err = meter.Int64Counter(
		"eventsourcing.events.collected",
		metric.WithDescription("Number of pending events drained for persistence"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	VersionConflicts, err = meter.Int64Counter(
		"eventsourcing.version.conflicts",
		metric.WithDescription("Number of optimistic concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return err
	}

	return nil
}

func recordAppended(ctx context.Context, n int64) {
	if initialized {
		EventsAppended.Add(ctx, n)
	}
}

func recordLoaded(ctx context.Context, n int64) {
	if initialized {
		EventsLoaded.Add(ctx, n)
	}
}

func recordRehydrated(ctx context.Context) {
	if initialized {
		AggregatesRehydrated.Add(ctx, 1)
	}
}

func recordCollected(ctx context.Context, n int64) {
	if initialized {
		EventsCollected.Add(ctx, n)
	}
}

func recordConflict(ctx context.Context) {
	if initialized {
		VersionConflicts.Add(ctx, 1)
	}
}
