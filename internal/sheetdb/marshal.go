package sheetdb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/tabula/internal/row"
)

// marshalRecord converts a payload record to canonical JSON TEXT.
func marshalRecord(rec row.Record) (string, error) {
	data, err := row.MarshalCanonical(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses stored JSON TEXT into a payload record. Numbers
// decode as json.Number so integers above 2^53 keep full precision.
func unmarshalRecord(data string) (row.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	r, err := row.FromRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return r.Record(), nil
}
