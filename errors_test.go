package eventsourcing

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "configuration error",
			err:  &ConfigurationError{AggregateType: "Order", Reason: "no canonical creation event set on type"},
			want: `aggregate type "Order": no canonical creation event set on type`,
		},
		{
			name: "construction error with field defects",
			err: &ConstructionError{
				EventType:  "Order.Placed",
				Missing:    []string{"total"},
				Unexpected: []string{"discount"},
			},
			want: `unable to construct event "Order.Placed": missing fields: total; unexpected fields: discount`,
		},
		{
			name: "version error",
			err:  &VersionError{Stream: "abc", Expected: 4, Actual: 6},
			want: `version conflict on stream "abc": expected 4, actual 6`,
		},
		{
			name: "event store error",
			err:  WrapEventStoreError(errors.New("connection reset")),
			want: "eventstore error: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstructionErrorUnwrap(t *testing.T) {
	cause := errors.New("initializer said no")
	err := &ConstructionError{EventType: "Order.Placed", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("ConstructionError should unwrap to its cause")
	}
}

func TestWrapEventStoreError(t *testing.T) {
	if WrapEventStoreError(nil) != nil {
		t.Error("WrapEventStoreError(nil) should pass nil through")
	}

	inner := fmt.Errorf("append: %w", ErrStreamExists)
	wrapped := WrapEventStoreError(inner)

	var storeErr *EventStoreError
	if !errors.As(wrapped, &storeErr) {
		t.Fatalf("wrapped error = %T, want *EventStoreError", wrapped)
	}
	if !errors.Is(wrapped, ErrStreamExists) {
		t.Error("wrapping should preserve the sentinel chain")
	}
}
