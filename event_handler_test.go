package eventsourcing

import (
	"context"
	"errors"
	"testing"
)

func envelopeFor(name string) *Envelope {
	return &Envelope{Event: &Event{name: name}}
}

func TestEventGroupProcessorRoutes(t *testing.T) {
	var placed, shipped int
	group := NewEventGroupProcessor(
		OnEvent("Order.Placed", func(ctx context.Context, env *Envelope) error {
			placed++
			return nil
		}),
		OnEvent("Order.Shipped", func(ctx context.Context, env *Envelope) error {
			shipped++
			return nil
		}),
	)

	ctx := context.Background()
	if err := group.Handle(ctx, envelopeFor("Order.Placed")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := group.Handle(ctx, envelopeFor("Order.Placed")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := group.Handle(ctx, envelopeFor("Order.Shipped")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if placed != 2 || shipped != 1 {
		t.Errorf("handled placed=%d shipped=%d, want 2/1", placed, shipped)
	}
}

func TestEventGroupProcessorSkipsUnrouted(t *testing.T) {
	group := NewEventGroupProcessor(
		OnEvent("Order.Placed", func(ctx context.Context, env *Envelope) error { return nil }),
	)

	err := group.Handle(context.Background(), envelopeFor("Order.Cancelled"))
	var skipped *ErrSkippedEvent
	if !errors.As(err, &skipped) {
		t.Fatalf("Handle() error = %v, want *ErrSkippedEvent", err)
	}
}

func TestEventGroupProcessorStreamFilter(t *testing.T) {
	group := NewEventGroupProcessor(
		OnEvent("Order.Shipped", func(ctx context.Context, env *Envelope) error { return nil }),
		OnEvent("Order.Placed", func(ctx context.Context, env *Envelope) error { return nil }),
	)

	filter := group.StreamFilter()
	if len(filter) != 2 || filter[0] != "Order.Placed" || filter[1] != "Order.Shipped" {
		t.Errorf("StreamFilter() = %v, want sorted event names", filter)
	}
}

func TestEventGroupProcessorDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("two handlers for the same event name should panic")
		}
	}()
	NewEventGroupProcessor(
		OnEvent("Order.Placed", func(ctx context.Context, env *Envelope) error { return nil }),
		OnEvent("Order.Placed", func(ctx context.Context, env *Envelope) error { return nil }),
	)
}

func TestEventGroupProcessorUnnamedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("a handler without EventName should panic")
		}
	}()
	NewEventGroupProcessor(
		NewEventHandlerFunc(func(ctx context.Context, env *Envelope) error { return nil }),
	)
}

func TestOnEventGuardsName(t *testing.T) {
	h := OnEvent("Order.Placed", func(ctx context.Context, env *Envelope) error { return nil })

	var skipped *ErrSkippedEvent
	if err := h.Handle(context.Background(), envelopeFor("Order.Shipped")); !errors.As(err, &skipped) {
		t.Fatalf("Handle() with another event name error = %v, want *ErrSkippedEvent", err)
	}
}
