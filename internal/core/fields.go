package core

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// EntityData is the canonical, typed body of a staged record.
type EntityData interface {
	Entity() EntityType
	// Set converts v into the column for code. known is false when the code
	// has no canonical column; err is set when the value cannot be converted.
	Set(code string, v Value) (known bool, err error)
	// Get returns the column value for code, false if unknown or null.
	Get(code string) (Value, bool)
	// Codes lists the canonical field codes in declaration order.
	Codes() []string
	Clone() EntityData
}

// FieldKind is the declared type of a canonical column.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldNumeric
	FieldDate
	FieldFlag
)

// Binding ties a field code to typed accessors on T.
type Binding[T any] struct {
	Code string
	Kind FieldKind
	Set  func(*T, Value) error
	Get  func(*T) (Value, bool)
}

// FieldTable is a compile-time checked dispatch table from field code to
// typed setter and getter.
type FieldTable[T any] struct {
	bindings map[string]Binding[T]
	codes    []string
}

// NewFieldTable builds a table. Panics on duplicate codes.
func NewFieldTable[T any](bindings ...Binding[T]) *FieldTable[T] {
	ft := &FieldTable[T]{bindings: make(map[string]Binding[T], len(bindings))}
	for _, b := range bindings {
		if _, dup := ft.bindings[b.Code]; dup {
			panic(fmt.Sprintf("field %s bound twice", b.Code))
		}
		ft.bindings[b.Code] = b
		ft.codes = append(ft.codes, b.Code)
	}
	return ft
}

func (ft *FieldTable[T]) Set(t *T, code string, v Value) (bool, error) {
	b, ok := ft.bindings[code]
	if !ok {
		return false, nil
	}
	if err := b.Set(t, v); err != nil {
		return true, fmt.Errorf("field %s: %w", code, err)
	}
	return true, nil
}

func (ft *FieldTable[T]) Get(t *T, code string) (Value, bool) {
	b, ok := ft.bindings[code]
	if !ok {
		return Value{}, false
	}
	return b.Get(t)
}

func (ft *FieldTable[T]) Kind(code string) (FieldKind, bool) {
	b, ok := ft.bindings[code]
	return b.Kind, ok
}

func (ft *FieldTable[T]) Codes() []string {
	return ft.codes
}

func textField[T any](code string, col func(*T) *pgtype.Text) Binding[T] {
	return Binding[T]{
		Code: code,
		Kind: FieldText,
		Set: func(t *T, v Value) error {
			*col(t) = ToPgText(v.String())
			return nil
		},
		Get: func(t *T) (Value, bool) {
			c := col(t)
			if !c.Valid {
				return Value{}, false
			}
			return StringValue(c.String), true
		},
	}
}

func numericField[T any](code string, col func(*T) *pgtype.Numeric) Binding[T] {
	return Binding[T]{
		Code: code,
		Kind: FieldNumeric,
		Set: func(t *T, v Value) error {
			if v.IsNull() || v.String() == "" {
				*col(t) = pgtype.Numeric{}
				return nil
			}
			n := ToPgNumeric(v.String())
			if !n.Valid {
				return fmt.Errorf("invalid number %q", v.String())
			}
			*col(t) = n
			return nil
		},
		Get: func(t *T) (Value, bool) {
			c := col(t)
			if !c.Valid {
				return Value{}, false
			}
			f, err := c.Float64Value()
			if err != nil || !f.Valid {
				return Value{}, false
			}
			return NumberValue(f.Float64), true
		},
	}
}

func dateField[T any](code string, col func(*T) *pgtype.Date) Binding[T] {
	return Binding[T]{
		Code: code,
		Kind: FieldDate,
		Set: func(t *T, v Value) error {
			if v.Kind == KindDate {
				*col(t) = pgtype.Date{Time: v.Date, Valid: true}
				return nil
			}
			if v.IsNull() || v.String() == "" {
				*col(t) = pgtype.Date{}
				return nil
			}
			d := ToPgDate(v.String())
			if !d.Valid {
				return fmt.Errorf("invalid date %q", v.String())
			}
			*col(t) = d
			return nil
		},
		Get: func(t *T) (Value, bool) {
			c := col(t)
			if !c.Valid {
				return Value{}, false
			}
			return DateValue(c.Time), true
		},
	}
}

// flagField stores Y/N indicators. Booleans and yes/no spellings are accepted.
func flagField[T any](code string, col func(*T) *pgtype.Bool) Binding[T] {
	return Binding[T]{
		Code: code,
		Kind: FieldFlag,
		Set: func(t *T, v Value) error {
			if v.Kind == KindBool {
				*col(t) = pgtype.Bool{Bool: v.Bool, Valid: true}
				return nil
			}
			if v.IsNull() || v.String() == "" {
				*col(t) = pgtype.Bool{}
				return nil
			}
			b := ToPgBool(v.String())
			if !b.Valid {
				return fmt.Errorf("invalid indicator %q", v.String())
			}
			*col(t) = b
			return nil
		},
		Get: func(t *T) (Value, bool) {
			c := col(t)
			if !c.Valid {
				return Value{}, false
			}
			return BoolValue(c.Bool), true
		},
	}
}
