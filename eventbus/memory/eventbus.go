package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/corefold/eventsourcing"
)

var _ eventsourcing.EventBus = (*EventBus)(nil)

type subscriber struct {
	name    string
	filter  func(*eventsourcing.Envelope) bool
	handler eventsourcing.EventHandler
	events  chan *eventsourcing.Envelope
	cancel  context.CancelFunc
}

// EventBus fans stored events out to named subscribers in-process. Each
// subscriber runs on its own goroutine with a buffered channel; a slow
// subscriber drops events rather than blocking Dispatch.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	closed     bool
	errs       chan error
	wg         sync.WaitGroup
	bufferSize int

	// lifecycle ends on Close so per-subscriber watcher goroutines exit
	// even when the subscription context is never canceled.
	lifecycle context.Context
	shutdown  context.CancelFunc
}

// NewEventBus constructs a bus with the given per-subscriber buffer size.
func NewEventBus(bufferSize int) *EventBus {
	lifecycle, shutdown := context.WithCancel(context.Background())
	return &EventBus{
		subs:       make(map[string]*subscriber),
		errs:       make(chan error, 64),
		bufferSize: bufferSize,
		lifecycle:  lifecycle,
		shutdown:   shutdown,
	}
}

// MatchAll accepts every event.
func MatchAll(*eventsourcing.Envelope) bool { return true }

// MatchEvents accepts events whose qualified name is in names. Combine it
// with an EventGroupProcessor's StreamFilter to subscribe a projection to
// exactly the events it handles.
func MatchEvents(names ...string) func(*eventsourcing.Envelope) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(env *eventsourcing.Envelope) bool {
		_, ok := set[env.Event.Name()]
		return ok
	}
}

// Subscribe registers a handler under a unique name. The subscriber is
// removed when ctx is done.
func (b *EventBus) Subscribe(
	ctx context.Context,
	name string,
	filter func(*eventsourcing.Envelope) bool,
	handler eventsourcing.EventHandler,
) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}

	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("handler with name %q already registered", name)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		events:  make(chan *eventsourcing.Envelope, b.bufferSize),
		cancel:  cancel,
	}

	b.subs[name] = s

	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s)

	go func() {
		select {
		case <-ctx.Done():
			b.removeSubscriber(name)
		case <-b.lifecycle.Done():
		}
	}()

	return nil
}

// Errors returns handler failures. The channel is buffered; errors beyond
// the buffer are dropped.
func (b *EventBus) Errors() <-chan error {
	return b.errs
}

// Dispatch sends the envelope to all matching subscribers.
func (b *EventBus) Dispatch(ctx context.Context, env *eventsourcing.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("eventbus is closed")
	}

	for _, s := range b.subs {
		if s.filter(env) {
			select {
			case s.events <- env:
			default:
				// Drop event if subscriber is busy.
			}
		}
	}
	return nil
}

// Close shuts down the bus and waits for all workers.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.shutdown()

	for name, s := range b.subs {
		s.cancel()
		close(s.events)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)

	return nil
}

// runSubscriber processes events for a single handler.
func (b *EventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-s.events:
			if !ok {
				return
			}

			handlerCtx := eventsourcing.WithEnvelope(ctx, env)
			if err := s.handler.Handle(handlerCtx, env); err != nil {
				var skipped *eventsourcing.ErrSkippedEvent
				if errors.As(err, &skipped) {
					continue
				}
				select {
				case b.errs <- fmt.Errorf("handler %q: %w", s.name, err):
				default:
					// Drop error if channel full.
				}
			}
		}
	}
}

func (b *EventBus) removeSubscriber(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	b.mu.Unlock()

	s.cancel()
	close(s.events)
}
