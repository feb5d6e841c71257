package eventsourcing

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// tally is the aggregate used by the replay tests. Its history is crafted
// through NewStoredEvent, the same path a store takes when rebuilding
// persisted events.
type tally struct {
	Base
	owner string
	total int64
}

var (
	tallyOpened = NewCreationEventType("Opened", NewSchema(Field("owner", String)),
		func(a *tally, e *Event) error {
			a.owner = Get[string](e, "owner")
			return nil
		})

	tallyIncremented = NewEventType("Incremented", NewSchema(Field("by", Int)),
		func(a *tally, e *Event) {
			a.total += Get[int64](e, "by")
		})

	tallyType = NewAggregateType("Tally",
		func() *tally { return &tally{} },
		WithEvents(tallyOpened, tallyIncremented),
	)
)

func tallyEvent(t *testing.T, name string, id uuid.UUID, version uint64, raw map[string]any) *Event {
	t.Helper()
	e, err := NewStoredEvent("Tally."+name, id, version, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), raw)
	if err != nil {
		t.Fatalf("NewStoredEvent(%s) error = %v", name, err)
	}
	return e
}

func TestRehydrate(t *testing.T) {
	id := uuid.New()
	history := []*Event{
		tallyEvent(t, "Opened", id, 1, map[string]any{"owner": "alice"}),
		tallyEvent(t, "Incremented", id, 2, map[string]any{"by": float64(5)}),
		tallyEvent(t, "Incremented", id, 3, map[string]any{"by": float64(3)}),
	}

	a, err := tallyType.Rehydrate(history)
	if err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	if a.ID() != id {
		t.Errorf("ID() = %s, want %s", a.ID(), id)
	}
	if a.Version() != 3 {
		t.Errorf("Version() = %d, want 3", a.Version())
	}
	if a.owner != "alice" || a.total != 8 {
		t.Errorf("state = %q/%d, want alice/8", a.owner, a.total)
	}
	if pending := a.CollectEvents(); len(pending) != 0 {
		t.Errorf("Rehydrate left %d pending events, want none", len(pending))
	}
}

func TestRehydrateEmptyHistory(t *testing.T) {
	if _, err := tallyType.Rehydrate(nil); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("Rehydrate(nil) error = %v, want ErrEmptyHistory", err)
	}
}

func TestRehydrateGapReturnsVersionError(t *testing.T) {
	id := uuid.New()
	history := []*Event{
		tallyEvent(t, "Opened", id, 1, map[string]any{"owner": "alice"}),
		tallyEvent(t, "Incremented", id, 3, map[string]any{"by": float64(5)}),
	}

	_, err := tallyType.Rehydrate(history)
	var verr *VersionError
	if !errors.As(err, &verr) {
		t.Fatalf("Rehydrate() error = %v, want *VersionError", err)
	}
	if verr.Expected != 2 || verr.Actual != 3 {
		t.Errorf("VersionError = expected %d actual %d, want 2/3", verr.Expected, verr.Actual)
	}
}

func TestRehydrateFirstEventNotCreation(t *testing.T) {
	id := uuid.New()
	history := []*Event{
		tallyEvent(t, "Incremented", id, 1, map[string]any{"by": float64(1)}),
	}
	if _, err := tallyType.Rehydrate(history); err == nil {
		t.Fatal("Rehydrate() with non-creation first event should fail")
	}
}

func TestRehydrateCreationEventNotAtVersionOne(t *testing.T) {
	id := uuid.New()
	history := []*Event{
		tallyEvent(t, "Opened", id, 2, map[string]any{"owner": "alice"}),
	}
	_, err := tallyType.Rehydrate(history)
	var verr *VersionError
	if !errors.As(err, &verr) {
		t.Fatalf("Rehydrate() error = %v, want *VersionError", err)
	}
	if verr.Expected != 1 || verr.Actual != 2 {
		t.Errorf("VersionError = expected %d actual %d, want 1/2", verr.Expected, verr.Actual)
	}
}

func TestRehydrateCreationEventMidstream(t *testing.T) {
	id := uuid.New()
	history := []*Event{
		tallyEvent(t, "Opened", id, 1, map[string]any{"owner": "alice"}),
		tallyEvent(t, "Opened", id, 2, map[string]any{"owner": "bob"}),
	}
	if _, err := tallyType.Rehydrate(history); err == nil {
		t.Fatal("Rehydrate() with a creation event after version 1 should fail")
	}
}

func TestRehydrateUnknownEvent(t *testing.T) {
	id := uuid.New()
	stray := &Event{name: "Tally.Renamed", originatorID: id, originatorVersion: 2}
	history := []*Event{
		tallyEvent(t, "Opened", id, 1, map[string]any{"owner": "alice"}),
		stray,
	}
	if _, err := tallyType.Rehydrate(history); !errors.Is(err, ErrEventNotRegistered) {
		t.Fatalf("Rehydrate() error = %v, want ErrEventNotRegistered", err)
	}
}

func TestApplyToForeignOriginatorPanics(t *testing.T) {
	history := []*Event{
		tallyEvent(t, "Opened", uuid.New(), 1, map[string]any{"owner": "alice"}),
		tallyEvent(t, "Incremented", uuid.New(), 2, map[string]any{"by": float64(1)}),
	}
	defer func() {
		if recover() == nil {
			t.Error("applying an event of a different originator should panic")
		}
	}()
	tallyType.Rehydrate(history)
}

func TestVersionErrorLeavesAggregateUntouched(t *testing.T) {
	id := uuid.New()
	a, err := tallyType.Rehydrate([]*Event{
		tallyEvent(t, "Opened", id, 1, map[string]any{"owner": "alice"}),
	})
	if err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}

	stale := tallyEvent(t, "Incremented", id, 5, map[string]any{"by": float64(9)})
	if err := applyTo(a, stale, nil); err == nil {
		t.Fatal("applyTo() with a version gap should fail")
	}
	if a.Version() != 1 || a.total != 0 {
		t.Errorf("aggregate mutated by rejected event: version=%d total=%d", a.Version(), a.total)
	}
	if !a.ModifiedOn().Equal(a.CreatedOn()) {
		t.Errorf("ModifiedOn() advanced despite rejected event")
	}
}
