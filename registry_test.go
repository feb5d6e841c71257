package eventsourcing

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type gauge struct {
	Base
	level int64
}

var (
	gaugeSet = NewEventType("Set", NewSchema(Field("level", Int)),
		func(g *gauge, e *Event) {
			g.level = Get[int64](e, "level")
		})

	gaugeType = NewAggregateType("Gauge",
		func() *gauge { return &gauge{} },
		WithEvents(gaugeSet),
	)
)

func TestLookupEventSchema(t *testing.T) {
	schema, ok := LookupEventSchema("Gauge.Set")
	if !ok {
		t.Fatal("LookupEventSchema() did not find a bound event type")
	}
	fields := schema.Fields()
	if len(fields) != 1 || fields[0].Name != "level" || fields[0].Type != Int {
		t.Errorf("schema fields = %+v, want one Int field named level", fields)
	}

	// The synthesized creation event registers too.
	if _, ok := LookupEventSchema("Gauge.Created"); !ok {
		t.Error("LookupEventSchema() did not find the synthesized creation event")
	}

	if _, ok := LookupEventSchema("Gauge.Unknown"); ok {
		t.Error("LookupEventSchema() found an event that was never declared")
	}
}

func TestNewStoredEvent(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	e, err := NewStoredEvent("Gauge.Set", id, 2, ts, map[string]any{"level": float64(11)})
	if err != nil {
		t.Fatalf("NewStoredEvent() error = %v", err)
	}
	if e.Name() != "Gauge.Set" || e.OriginatorID() != id || e.OriginatorVersion() != 2 {
		t.Errorf("rebuilt event = %s/%s/%d", e.Name(), e.OriginatorID(), e.OriginatorVersion())
	}
	if e.IsCreation() {
		t.Error("Gauge.Set rebuilt as a creation event")
	}
	if got := Get[int64](e, "level"); got != 11 {
		t.Errorf("level = %d, want 11", got)
	}
}

func TestNewStoredEventUnknownType(t *testing.T) {
	_, err := NewStoredEvent("Gauge.Dropped", uuid.New(), 1, time.Now(), nil)
	if !errors.Is(err, ErrEventNotRegistered) {
		t.Fatalf("NewStoredEvent() error = %v, want ErrEventNotRegistered", err)
	}
}

func TestNewStoredEventCreationFlag(t *testing.T) {
	e, err := NewStoredEvent("Gauge.Created", uuid.New(), 1, time.Now(), nil)
	if err != nil {
		t.Fatalf("NewStoredEvent() error = %v", err)
	}
	if !e.IsCreation() {
		t.Error("rebuilt creation event lost its creation flag")
	}

	a, err := gaugeType.Rehydrate([]*Event{e})
	if err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	if a.Version() != 1 {
		t.Errorf("Version() = %d, want 1", a.Version())
	}
}
