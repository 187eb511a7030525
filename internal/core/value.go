package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind identifies which member of a Value is set.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

func parseValueKind(s string) (ValueKind, error) {
	switch s {
	case "null", "":
		return KindNull, nil
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "bool":
		return KindBool, nil
	case "date":
		return KindDate, nil
	}
	return KindNull, fmt.Errorf("unknown value kind %q", s)
}

// DateLayout is the canonical text form of a date Value.
const DateLayout = "2006-01-02"

// Value is a variant scalar. It carries submitted values that have no
// canonical column and is the currency of field access on staged records.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Date time.Time
}

func NullValue() Value               { return Value{} }
func StringValue(s string) Value     { return Value{Kind: KindString, Str: s} }
func NumberValue(f float64) Value    { return Value{Kind: KindNumber, Num: f} }
func BoolValue(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func DateValue(t time.Time) Value    { return Value{Kind: KindDate, Date: t.UTC().Truncate(24 * time.Hour)} }
func (v Value) IsNull() bool         { return v.Kind == KindNull }
func (v Value) Equal(o Value) bool   { return v.Kind == o.Kind && v.String() == o.String() }

// String renders the value as submitted text. Null renders as "".
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		if v.Bool {
			return "Y"
		}
		return "N"
	case KindDate:
		return v.Date.Format(DateLayout)
	default:
		return ""
	}
}

// Float returns the numeric form of v. Strings are parsed leniently.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		n := ToPgNumeric(v.Str)
		if !n.Valid {
			return 0, false
		}
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	}
	return 0, false
}

// ValueOf converts a decoded JSON scalar into a Value. Objects and arrays are
// kept as their JSON text so nothing submitted is lost.
func ValueOf(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return NullValue()
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NumberValue(f)
		}
		return StringValue(t.String())
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case time.Time:
		return DateValue(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return StringValue(fmt.Sprint(t))
		}
		return StringValue(string(b))
	}
}

type valueJSON struct {
	Kind  string `json:"kind"`
	Value any    `json:"value,omitempty"`
}

// MarshalJSON keeps the kind so the value round-trips through JSONB columns.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.Kind.String()}
	switch v.Kind {
	case KindString:
		out.Value = v.Str
	case KindNumber:
		out.Value = v.Num
	case KindBool:
		out.Value = v.Bool
	case KindDate:
		out.Value = v.Date.Format(DateLayout)
	}
	return json.Marshal(out)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var in struct {
		Kind  string          `json:"kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	kind, err := parseValueKind(in.Kind)
	if err != nil {
		return err
	}
	*v = Value{Kind: kind}
	switch kind {
	case KindString:
		return json.Unmarshal(in.Value, &v.Str)
	case KindNumber:
		return json.Unmarshal(in.Value, &v.Num)
	case KindBool:
		return json.Unmarshal(in.Value, &v.Bool)
	case KindDate:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return err
		}
		v.Date = t
	}
	return nil
}

// Extensions holds submitted field codes with no canonical column, and
// canonical codes whose value could not be converted. Values are kept as
// submitted.
type Extensions map[string]Value

// Clone returns an independent copy.
func (e Extensions) Clone() Extensions {
	if e == nil {
		return nil
	}
	out := make(Extensions, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// normalizeCode upper-cases and trims a field code.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
