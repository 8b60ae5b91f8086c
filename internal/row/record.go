package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Record is the payload form of a row: field name to plain Go value
// (string, int64, bool, nil, or []Record for nested lists).
// Records never contain AppData.
type Record map[string]any

// Record converts r to its payload form, stripping AppData at every depth.
func (r *Row) Record() Record {
	r.mu.RLock()
	values := make(map[string]Value, len(r.fields))
	for k, v := range r.fields {
		values[k] = v
	}
	r.mu.RUnlock()

	out := make(Record, len(values))
	for k, v := range values {
		out[k] = plain(v)
	}
	return out
}

// FromRecord builds a row with a fresh identity and empty AppData from rec.
// Nested lists are converted recursively, so every nested row carries its
// own AppData as well.
func FromRecord(rec Record) (*Row, error) {
	r := New()
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		v, err := ParseValue(rec[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		r.fields[k] = v
	}
	return r, nil
}

// FromRecords converts a payload into rows.
func FromRecords(recs []Record) ([]*Row, error) {
	out := make([]*Row, 0, len(recs))
	for i, rec := range recs {
		r, err := FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// DecodeRecords parses a JSON array of objects into records.
// Numbers are decoded as json.Number so large integers keep full precision.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	out := make([]Record, len(raw))
	for i, m := range raw {
		rec, err := normalizeRecord(m)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = rec
	}
	return out, nil
}

// normalizeRecord rewrites decoded JSON so nested arrays become []Record.
func normalizeRecord(m map[string]any) (Record, error) {
	r, err := FromRecord(Record(m))
	if err != nil {
		return nil, err
	}
	return r.Record(), nil
}
