package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	bus           EventBus
	metadataFuncs []func(ctx context.Context) map[string]any
	retryStrategy func() backoff.BackOff
}

// WithEventBus makes the repository dispatch saved envelopes to the bus
// after a successful append.
func WithEventBus(bus EventBus) RepositoryOption {
	return func(o *repositoryOptions) { o.bus = bus }
}

// WithMetadataExtractor adds a metadata function. Each function is called
// on every save and its pairs are attached to the saved envelopes.
// Multiple extractors combine in registration order.
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) RepositoryOption {
	return func(o *repositoryOptions) {
		o.metadataFuncs = append(o.metadataFuncs, fn)
	}
}

// WithRetryStrategy sets the backoff used by Execute when a save hits a
// VersionError. The factory is invoked per Execute call since backoff
// values are stateful. The default performs no retries.
func WithRetryStrategy(factory func() backoff.BackOff) RepositoryOption {
	return func(o *repositoryOptions) { o.retryStrategy = factory }
}

// Repository loads aggregates of one type from an event store and saves
// their pending events back. It is the external layer the core's
// concurrency model assumes: the core only detects conflicts; the
// repository decides whether to retry them.
type Repository[T Aggregate] struct {
	typ   *AggregateType[T]
	store EventStore
	opts  repositoryOptions
}

// NewRepository creates a repository for one aggregate type.
func NewRepository[T Aggregate](typ *AggregateType[T], store EventStore, opts ...RepositoryOption) *Repository[T] {
	r := &Repository[T]{
		typ:   typ,
		store: store,
		opts: repositoryOptions{
			retryStrategy: func() backoff.BackOff { return &backoff.StopBackOff{} },
		},
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

// Load reconstructs the aggregate with the given id by replaying its full
// event history through the mutation protocol.
func (r *Repository[T]) Load(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T

	iter, err := r.store.LoadStream(ctx, id.String())
	if err != nil {
		return zero, fmt.Errorf("load aggregate %q (%s): %w", r.typ.Name(), id, err)
	}

	var events []*Event
	for iter.Next(ctx) {
		events = append(events, iter.Value().Event)
	}
	if err := iter.Err(); err != nil {
		return zero, fmt.Errorf("load aggregate %q (%s): iter failed: %w", r.typ.Name(), id, err)
	}
	recordLoaded(ctx, int64(len(events)))

	agg, err := r.typ.Rehydrate(events)
	if err != nil {
		return zero, fmt.Errorf("load aggregate %q (%s): %w", r.typ.Name(), id, err)
	}
	recordRehydrated(ctx)
	return agg, nil
}

// Save drains the aggregate's pending buffer and appends the events to the
// store at the expected revision. When an event bus is configured, saved
// envelopes are dispatched after the append succeeds.
func (r *Repository[T]) Save(ctx context.Context, agg T) (AppendResult, error) {
	pending := agg.CollectEvents()
	if len(pending) == 0 {
		return AppendResult{
			Successful:          true,
			StreamID:            agg.ID().String(),
			NextExpectedVersion: agg.Version(),
		}, nil
	}
	recordCollected(ctx, int64(len(pending)))

	var metadata map[string]any
	if len(r.opts.metadataFuncs) > 0 {
		metadata = make(map[string]any)
		for _, fn := range r.opts.metadataFuncs {
			for k, v := range fn(ctx) {
				metadata[k] = v
			}
		}
	}

	envelopes := WrapEvents(pending, metadata)
	expected := Revision(pending[0].OriginatorVersion() - 1)

	result, err := r.store.Save(ctx, envelopes, expected)
	if err != nil {
		var verr *VersionError
		if errors.As(err, &verr) {
			recordConflict(ctx)
		}
		return result, fmt.Errorf("save aggregate %q (%s): %w", r.typ.Name(), agg.ID(), err)
	}
	recordAppended(ctx, int64(len(envelopes)))

	if r.opts.bus != nil {
		for i := range envelopes {
			env := &envelopes[i]
			if err := r.opts.bus.Dispatch(WithEnvelope(ctx, env), env); err != nil {
				return result, fmt.Errorf("save aggregate %q (%s): dispatch failed: %w", r.typ.Name(), agg.ID(), err)
			}
		}
	}
	return result, nil
}

// Execute runs a command against the aggregate with the given id: load,
// apply the command, save. A VersionError from the save means another
// writer extended the stream in between; the whole sequence is retried
// under the configured backoff against the then-current state. Any other
// error, including domain guard errors from the command, is permanent.
func (r *Repository[T]) Execute(ctx context.Context, id uuid.UUID, cmd func(agg T) error) (T, error) {
	operation := func() (T, error) {
		var zero T

		agg, err := r.Load(ctx, id)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		if err := cmd(agg); err != nil {
			return zero, backoff.Permanent(err)
		}
		if _, err := r.Save(ctx, agg); err != nil {
			var verr *VersionError
			if errors.As(err, &verr) {
				return zero, err
			}
			return zero, backoff.Permanent(err)
		}
		return agg, nil
	}

	return backoff.RetryWithData(operation, backoff.WithContext(r.opts.retryStrategy(), ctx))
}
