package row

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is a sealed interface over the field types a row may hold.
// Only Null, String, Int, Bool, and List implement it.
type Value interface {
	value()
}

// Null is an explicitly empty cell.
type Null struct{}

func (Null) value() {}

// String is a text cell. Most spreadsheet cells arrive as strings.
type String string

func (String) value() {}

// Int is an integral numeric cell.
type Int int64

func (Int) value() {}

// Bool is a checkbox cell.
type Bool bool

func (Bool) value() {}

// List is a nested array of rows (for example the items of a packlist).
type List struct {
	Table *Table
}

func (List) value() {}

// NewList wraps rows in a fresh nested table.
func NewList(rows ...*Row) List {
	return List{Table: NewTable(rows...)}
}

// IsEmpty reports whether v carries no user content.
// Whitespace-only strings count as empty; a nested list is empty when none
// of its rows has content.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case String:
		return strings.TrimSpace(string(val)) == ""
	case List:
		if val.Table == nil {
			return true
		}
		for _, r := range val.Table.Rows() {
			if r.HasContent() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Text renders v for display.
func Text(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Bool:
		return strconv.FormatBool(bool(val))
	case List:
		if val.Table == nil {
			return "[0 rows]"
		}
		return fmt.Sprintf("[%d rows]", val.Table.Len())
	default:
		return fmt.Sprintf("%v", v)
	}
}

// cloneValue deep-copies v. Nested lists get a new table with cloned rows.
func cloneValue(v Value, strip bool) Value {
	list, ok := v.(List)
	if !ok {
		return v
	}
	if list.Table == nil {
		return List{Table: NewTable()}
	}
	return List{Table: list.Table.clone(strip)}
}

// ParseValue converts a decoded JSON or YAML value into a Value.
//
// Accepted inputs: nil, string, bool, all Go integer kinds, json.Number,
// float64 (integral values become Int, others keep their decimal text),
// Record / map[string]any and []any of maps (become a nested List).
func ParseValue(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return cloneValue(val, false), nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Int(int64(val)), nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return Int(n), nil
		}
		return String(val.String()), nil
	case float64:
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return String(strconv.FormatFloat(val, 'f', -1, 64)), nil
	case []Record:
		t := NewTable()
		for i, rec := range val {
			r, err := FromRecord(rec)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			t.Append(r)
		}
		return List{Table: t}, nil
	case []any:
		t := NewTable()
		for i, elem := range val {
			rec, ok := asRecord(elem)
			if !ok {
				return nil, fmt.Errorf("[%d]: nested lists must contain objects, got %T", i, elem)
			}
			r, err := FromRecord(rec)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			t.Append(r)
		}
		return List{Table: t}, nil
	default:
		if rec, ok := asRecord(raw); ok {
			// A lone object is treated as a single-row nested list.
			r, err := FromRecord(rec)
			if err != nil {
				return nil, err
			}
			return NewList(r), nil
		}
		return nil, fmt.Errorf("unsupported value type: %T", raw)
	}
}

func asRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return Record(m), true
	default:
		return nil, false
	}
}

// plain converts v to its payload form.
func plain(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		if val.Table == nil {
			return []Record{}
		}
		return val.Table.Records()
	default:
		return nil
	}
}
