package testutil

import (
	"context"
	"sync"

	"github.com/roach88/tabula/internal/row"
)

// MemorySource is an in-memory dataset with fetch and save methods whose
// signatures match snapshot.FetchFunc and snapshot.SaveFunc.
//
// Save replaces the stored rows with the payload, so a later Fetch returns
// what was saved. Every payload is recorded for assertions.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemorySource struct {
	id      string
	mu      sync.Mutex
	rows    []row.Record
	saved   [][]row.Record
	fetches int

	// FetchErr and SaveErr, when set, are returned instead of doing work.
	FetchErr error
	SaveErr  error

	// Normalize, when set, is applied to every saved record before it is
	// stored, mimicking a source that rewrites values.
	Normalize func(row.Record) row.Record
}

// NewMemorySource creates a source holding rows.
func NewMemorySource(rows ...row.Record) *MemorySource {
	return &MemorySource{id: row.NewID(), rows: rows}
}

// SourceID returns an identity unique to this source.
func (m *MemorySource) SourceID() string {
	return "memory:" + m.id
}

// Fetch returns a copy of the stored rows.
func (m *MemorySource) Fetch(ctx context.Context, _ []any) ([]row.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return copyRecords(m.rows), nil
}

// Save stores payload as the new dataset.
func (m *MemorySource) Save(ctx context.Context, payload []row.Record, _ []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.saved = append(m.saved, copyRecords(payload))
	next := copyRecords(payload)
	if m.Normalize != nil {
		for i, rec := range next {
			next[i] = m.Normalize(rec)
		}
	}
	m.rows = next
	return nil
}

// SetFetchErr sets FetchErr under the source lock.
func (m *MemorySource) SetFetchErr(err error) {
	m.mu.Lock()
	m.FetchErr = err
	m.mu.Unlock()
}

// SetSaveErr sets SaveErr under the source lock.
func (m *MemorySource) SetSaveErr(err error) {
	m.mu.Lock()
	m.SaveErr = err
	m.mu.Unlock()
}

// Rows returns a copy of the stored rows.
func (m *MemorySource) Rows() []row.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRecords(m.rows)
}

// Saved returns every payload received by Save, oldest first.
func (m *MemorySource) Saved() [][]row.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]row.Record, len(m.saved))
	for i, p := range m.saved {
		out[i] = copyRecords(p)
	}
	return out
}

// Fetches returns how many times Fetch was called.
func (m *MemorySource) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func copyRecords(recs []row.Record) []row.Record {
	if recs == nil {
		return nil
	}
	out := make([]row.Record, len(recs))
	for i, rec := range recs {
		out[i] = copyRecord(rec)
	}
	return out
}

func copyRecord(rec row.Record) row.Record {
	out := make(row.Record, len(rec))
	for k, v := range rec {
		if nested, ok := v.([]row.Record); ok {
			out[k] = copyRecords(nested)
			continue
		}
		out[k] = v
	}
	return out
}
