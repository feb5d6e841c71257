package eventsourcing

import (
	"context"
	"fmt"
	"sort"
)

// EventHandler processes one stored event.
type EventHandler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
func NewEventHandlerFunc(fn func(ctx context.Context, env *Envelope) error) EventHandler {
	return eventHandlerFunc(fn)
}

type eventHandlerFunc func(ctx context.Context, env *Envelope) error

func (h eventHandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return h(ctx, env)
}

// namedHandler handles events of a single qualified event type name.
type namedHandler struct {
	name string
	fn   func(ctx context.Context, env *Envelope) error
}

func (h *namedHandler) EventName() string {
	return h.name
}

func (h *namedHandler) Handle(ctx context.Context, env *Envelope) error {
	if env.Event.Name() != h.name {
		return &ErrSkippedEvent{Event: env.Event}
	}
	return h.fn(ctx, env)
}

// OnEvent creates an EventHandler bound to one qualified event type name,
// e.g. "BankAccount.Opened". Handlers created this way can be routed by an
// EventGroupProcessor; events of any other name are skipped.
func OnEvent(name string, fn func(ctx context.Context, env *Envelope) error) EventHandler {
	return &namedHandler{name: name, fn: fn}
}

// EventGroupProcessor routes incoming events to the handler registered for
// their event type name.
type EventGroupProcessor struct {
	handlers map[string]EventHandler
}

// NewEventGroupProcessor builds a group from named handlers (see OnEvent).
// Handlers without a name, or two handlers for the same name, are a wiring
// defect and panic.
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		named, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}

		name := named.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{handlers: m}
}

// Handle routes the event to the handler for its type name. Returns
// ErrSkippedEvent when no handler is registered for it.
func (p *EventGroupProcessor) Handle(ctx context.Context, env *Envelope) error {
	h, ok := p.handlers[env.Event.Name()]
	if !ok {
		return &ErrSkippedEvent{Event: env.Event}
	}
	return h.Handle(ctx, env)
}

// StreamFilter returns a sorted list of the event names the group handles.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
