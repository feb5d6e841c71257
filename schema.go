package eventsourcing

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FieldType enumerates the value types an event payload field may declare.
type FieldType int

const (
	String FieldType = iota + 1
	Int
	Float
	Bool
	Decimal
	Time
	UUID
	Bytes
)

func (t FieldType) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Decimal:
		return "decimal"
	case Time:
		return "time"
	case UUID:
		return "uuid"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// FieldDef declares one named, typed payload field of an event type.
type FieldDef struct {
	Name     string
	Type     FieldType
	Optional bool
}

// Field declares a required payload field.
func Field(name string, t FieldType) FieldDef {
	return FieldDef{Name: name, Type: t}
}

// OptionalField declares a payload field that may be omitted at construction.
func OptionalField(name string, t FieldType) FieldDef {
	return FieldDef{Name: name, Type: t, Optional: true}
}

// Schema is the declared shape of an event type's payload: an ordered list
// of named, typed fields checked structurally whenever an event of that
// type is constructed.
type Schema struct {
	fields []FieldDef
	byName map[string]FieldDef
}

// NewSchema declares a payload schema. Declaring the same field name twice
// is a definition defect and panics.
func NewSchema(fields ...FieldDef) *Schema {
	s := &Schema{
		fields: fields,
		byName: make(map[string]FieldDef, len(fields)),
	}
	for _, f := range fields {
		if _, exists := s.byName[f.Name]; exists {
			panic(fmt.Sprintf("schema declares field %q twice", f.Name))
		}
		s.byName[f.Name] = f
	}
	return s
}

// Fields returns the declared field definitions in declaration order.
func (s *Schema) Fields() []FieldDef {
	out := make([]FieldDef, len(s.fields))
	copy(out, s.fields)
	return out
}

// validate checks the supplied payload against the schema and returns a
// normalized copy: integer values of any width become int64, float32
// becomes float64. The supplied field set must match the declared one
// exactly; required fields may not be missing and unknown fields are
// rejected.
func (s *Schema) validate(eventType string, supplied Fields) (Fields, error) {
	cerr := &ConstructionError{EventType: eventType}
	normalized := make(Fields, len(supplied))

	for _, def := range s.fields {
		v, ok := supplied[def.Name]
		if !ok {
			if !def.Optional {
				cerr.Missing = append(cerr.Missing, def.Name)
			}
			continue
		}
		nv, ok := normalizeValue(def.Type, v)
		if !ok {
			cerr.Mismatched = append(cerr.Mismatched,
				fmt.Sprintf("%s (want %s, got %T)", def.Name, def.Type, v))
			continue
		}
		normalized[def.Name] = nv
	}

	for name := range supplied {
		if _, ok := s.byName[name]; !ok {
			cerr.Unexpected = append(cerr.Unexpected, name)
		}
	}

	if len(cerr.Missing) > 0 || len(cerr.Unexpected) > 0 || len(cerr.Mismatched) > 0 {
		return nil, cerr
	}
	return normalized, nil
}

// decode rebuilds a payload from its stored (JSON-decoded) representation,
// coercing the loosely typed values back into the declared types: numbers
// arrive as float64, decimals, times, uuids and bytes as strings.
func (s *Schema) decode(eventType string, raw map[string]any) (Fields, error) {
	fields := make(Fields, len(raw))
	for _, def := range s.fields {
		v, ok := raw[def.Name]
		if !ok {
			if def.Optional {
				continue
			}
			return nil, fmt.Errorf("stored event %q: missing field %q", eventType, def.Name)
		}
		cv, err := coerceValue(def.Type, v)
		if err != nil {
			return nil, fmt.Errorf("stored event %q: field %q: %w", eventType, def.Name, err)
		}
		fields[def.Name] = cv
	}
	return fields, nil
}

func normalizeValue(t FieldType, v any) (any, bool) {
	switch t {
	case String:
		s, ok := v.(string)
		return s, ok
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int8:
			return int64(n), true
		case int16:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case uint:
			return int64(n), true
		case uint8:
			return int64(n), true
		case uint16:
			return int64(n), true
		case uint32:
			return int64(n), true
		}
		return nil, false
	case Float:
		switch n := v.(type) {
		case float32:
			return float64(n), true
		case float64:
			return n, true
		}
		return nil, false
	case Bool:
		b, ok := v.(bool)
		return b, ok
	case Decimal:
		d, ok := v.(decimal.Decimal)
		return d, ok
	case Time:
		ts, ok := v.(time.Time)
		return ts, ok
	case UUID:
		id, ok := v.(uuid.UUID)
		return id, ok
	case Bytes:
		b, ok := v.([]byte)
		return b, ok
	default:
		return nil, false
	}
}

func coerceValue(t FieldType, v any) (any, error) {
	// Values already carrying the declared type pass straight through;
	// that is what the in-memory store hands back.
	if nv, ok := normalizeValue(t, v); ok {
		return nv, nil
	}

	switch t {
	case Int:
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f), nil
		}
	case Decimal:
		switch n := v.(type) {
		case string:
			return decimal.NewFromString(n)
		case float64:
			return decimal.NewFromFloat(n), nil
		}
	case Time:
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	case UUID:
		if s, ok := v.(string); ok {
			return uuid.Parse(s)
		}
	case Bytes:
		if s, ok := v.(string); ok {
			return base64.StdEncoding.DecodeString(s)
		}
	}
	return nil, fmt.Errorf("cannot decode %T as %s", v, t)
}
