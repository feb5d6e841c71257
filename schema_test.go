package eventsourcing

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestSchemaValidate(t *testing.T) {
	schema := NewSchema(
		Field("name", String),
		Field("amount", Decimal),
		Field("count", Int),
		OptionalField("note", String),
	)

	tests := []struct {
		name       string
		supplied   Fields
		missing    []string
		unexpected []string
		mismatched []string
	}{
		{
			name: "all required fields",
			supplied: Fields{
				"name":   "a",
				"amount": decimal.NewFromInt(1),
				"count":  3,
			},
		},
		{
			name: "optional field supplied",
			supplied: Fields{
				"name":   "a",
				"amount": decimal.NewFromInt(1),
				"count":  3,
				"note":   "hello",
			},
		},
		{
			name: "missing required field",
			supplied: Fields{
				"name":  "a",
				"count": 3,
			},
			missing: []string{"amount"},
		},
		{
			name: "unexpected field",
			supplied: Fields{
				"name":   "a",
				"amount": decimal.NewFromInt(1),
				"count":  3,
				"extra":  true,
			},
			unexpected: []string{"extra"},
		},
		{
			name: "mismatched type",
			supplied: Fields{
				"name":   "a",
				"amount": "not a decimal",
				"count":  3,
			},
			mismatched: []string{"amount"},
		},
		{
			name:       "several defects at once",
			supplied:   Fields{"count": "three", "extra": 1},
			missing:    []string{"name", "amount"},
			unexpected: []string{"extra"},
			mismatched: []string{"count"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.validate("Test.Event", tt.supplied)

			wantErr := len(tt.missing) > 0 || len(tt.unexpected) > 0 || len(tt.mismatched) > 0
			if !wantErr {
				if err != nil {
					t.Fatalf("validate() error = %v, want nil", err)
				}
				return
			}

			var cerr *ConstructionError
			if !errors.As(err, &cerr) {
				t.Fatalf("validate() error = %v, want *ConstructionError", err)
			}
			if got, want := len(cerr.Missing), len(tt.missing); got != want {
				t.Errorf("missing = %v, want %v", cerr.Missing, tt.missing)
			}
			if got, want := len(cerr.Unexpected), len(tt.unexpected); got != want {
				t.Errorf("unexpected = %v, want %v", cerr.Unexpected, tt.unexpected)
			}
			for _, name := range tt.mismatched {
				found := false
				for _, m := range cerr.Mismatched {
					if strings.HasPrefix(m, name+" ") {
						found = true
					}
				}
				if !found {
					t.Errorf("mismatched = %v, want entry for %q", cerr.Mismatched, name)
				}
			}
		})
	}
}

func TestSchemaValidateNormalizesNumbers(t *testing.T) {
	schema := NewSchema(Field("count", Int), Field("ratio", Float))

	normalized, err := schema.validate("Test.Event", Fields{
		"count": int32(7),
		"ratio": float32(0.5),
	})
	if err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if _, ok := normalized["count"].(int64); !ok {
		t.Errorf("count normalized to %T, want int64", normalized["count"])
	}
	if _, ok := normalized["ratio"].(float64); !ok {
		t.Errorf("ratio normalized to %T, want float64", normalized["ratio"])
	}
}

func TestSchemaDecodeCoercions(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	schema := NewSchema(
		Field("count", Int),
		Field("amount", Decimal),
		Field("at", Time),
		Field("ref", UUID),
		Field("blob", Bytes),
		OptionalField("note", String),
	)

	fields, err := schema.decode("Test.Event", map[string]any{
		"count":  float64(42),
		"amount": "19.99",
		"at":     ts.Format(time.RFC3339Nano),
		"ref":    id.String(),
		"blob":   "aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("decode() error = %v", err)
	}

	if got := fields["count"]; got != int64(42) {
		t.Errorf("count = %v (%T), want int64 42", got, got)
	}
	want := decimal.RequireFromString("19.99")
	if got := fields["amount"].(decimal.Decimal); !got.Equal(want) {
		t.Errorf("amount = %s, want %s", got, want)
	}
	if got := fields["at"].(time.Time); !got.Equal(ts) {
		t.Errorf("at = %s, want %s", got, ts)
	}
	if got := fields["ref"].(uuid.UUID); got != id {
		t.Errorf("ref = %s, want %s", got, id)
	}
	if got := string(fields["blob"].([]byte)); got != "hello" {
		t.Errorf("blob = %q, want %q", got, "hello")
	}
	if _, ok := fields["note"]; ok {
		t.Error("optional field should stay absent when not stored")
	}
}

func TestSchemaDecodeRejects(t *testing.T) {
	schema := NewSchema(Field("count", Int))

	if _, err := schema.decode("Test.Event", map[string]any{}); err == nil {
		t.Error("decode() with missing required field should fail")
	}
	if _, err := schema.decode("Test.Event", map[string]any{"count": 1.5}); err == nil {
		t.Error("decode() with fractional value for Int should fail")
	}
	if _, err := schema.decode("Test.Event", map[string]any{"count": "nope"}); err == nil {
		t.Error("decode() with non-numeric value for Int should fail")
	}
}

func TestNewSchemaDuplicateFieldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewSchema with a duplicate field name should panic")
		}
	}()
	NewSchema(Field("x", String), Field("x", Int))
}
