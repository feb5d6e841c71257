package eventsourcing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWithEnvelope(t *testing.T) {
	env := &Envelope{
		EventID:       uuid.New(),
		StreamID:      "stream-1",
		Metadata:      map[string]any{"trace": "abc"},
		Version:       3,
		GlobalVersion: 17,
		OccurredAt:    time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
	}

	ctx := WithEnvelope(context.Background(), env)

	if got := StreamIDFromContext(ctx); got != "stream-1" {
		t.Errorf("StreamIDFromContext() = %q", got)
	}
	if got := EventIDFromContext(ctx); got != env.EventID {
		t.Errorf("EventIDFromContext() = %s", got)
	}
	if got := VersionFromContext(ctx); got != 3 {
		t.Errorf("VersionFromContext() = %d", got)
	}
	if got := GlobalVersionFromContext(ctx); got != 17 {
		t.Errorf("GlobalVersionFromContext() = %d", got)
	}
	if got := OccurredAtFromContext(ctx); !got.Equal(env.OccurredAt) {
		t.Errorf("OccurredAtFromContext() = %s", got)
	}
	if got := MetadataFromContext(ctx); got["trace"] != "abc" {
		t.Errorf("MetadataFromContext() = %v", got)
	}
}

func TestContextGettersZeroValues(t *testing.T) {
	ctx := context.Background()

	if StreamIDFromContext(ctx) != "" {
		t.Error("StreamIDFromContext() on bare context should be empty")
	}
	if EventIDFromContext(ctx) != uuid.Nil {
		t.Error("EventIDFromContext() on bare context should be uuid.Nil")
	}
	if VersionFromContext(ctx) != 0 || GlobalVersionFromContext(ctx) != 0 {
		t.Error("version getters on bare context should be zero")
	}
	if !OccurredAtFromContext(ctx).IsZero() {
		t.Error("OccurredAtFromContext() on bare context should be the zero time")
	}
	if MetadataFromContext(ctx) != nil {
		t.Error("MetadataFromContext() on bare context should be nil")
	}
}
