package row

import (
	"fmt"
	"sync"
)

// Table is an ordered list of rows with a stable identity.
//
// The table lock only covers the row slice. Rows lock themselves, so a
// caller may hold a *Row obtained from At or Rows and mutate it while other
// goroutines restructure the table.
type Table struct {
	id string

	mu   sync.RWMutex
	rows []*Row
}

// NewTable creates a table holding rows (not copied).
func NewTable(rows ...*Row) *Table {
	t := &Table{id: NewID()}
	if len(rows) > 0 {
		t.rows = append(make([]*Row, 0, len(rows)), rows...)
	}
	return t
}

// ID returns the table identity.
func (t *Table) ID() string {
	return t.id
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// At returns the row at index i, or nil when out of range.
func (t *Table) At(i int) *Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.rows) {
		return nil
	}
	return t.rows[i]
}

// Rows returns a copy of the row slice. The rows themselves are shared.
func (t *Table) Rows() []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// IndexOf returns the index of the row with the given identity, or -1.
func (t *Table) IndexOf(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, r := range t.rows {
		if r.id == id {
			return i
		}
	}
	return -1
}

// Append adds rows at the end.
func (t *Table) Append(rows ...*Row) {
	t.mu.Lock()
	t.rows = append(t.rows, rows...)
	t.mu.Unlock()
}

// Insert places r at index i (clamped to [0, Len]).
func (t *Table) Insert(i int, r *Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i > len(t.rows) {
		i = len(t.rows)
	}
	t.rows = append(t.rows, nil)
	copy(t.rows[i+1:], t.rows[i:])
	t.rows[i] = r
}

// RemoveAt removes and returns the row at index i.
func (t *Table) RemoveAt(i int) (*Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.rows) {
		return nil, fmt.Errorf("row index %d out of range [0,%d)", i, len(t.rows))
	}
	r := t.rows[i]
	copy(t.rows[i:], t.rows[i+1:])
	t.rows[len(t.rows)-1] = nil // release for GC
	t.rows = t.rows[:len(t.rows)-1]
	return r, nil
}

// Move relocates the row at index from to index to.
func (t *Table) Move(from, to int) error {
	r, err := t.RemoveAt(from)
	if err != nil {
		return err
	}
	t.Insert(to, r)
	return nil
}

// RemoveFunc removes every row for which drop returns true and reports how
// many were removed. drop is called without the table lock held.
func (t *Table) RemoveFunc(drop func(*Row) bool) int {
	rows := t.Rows()
	doomed := make(map[*Row]bool)
	for _, r := range rows {
		if drop(r) {
			doomed[r] = true
		}
	}
	if len(doomed) == 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.rows[:0]
	removed := 0
	for _, r := range t.rows {
		if doomed[r] {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(t.rows); i++ {
		t.rows[i] = nil
	}
	t.rows = kept
	return removed
}

// Replace swaps the table contents for rows while keeping the table
// identity. rows is copied; the rows themselves are adopted.
func (t *Table) Replace(rows []*Row) {
	next := make([]*Row, len(rows))
	copy(next, rows)
	t.mu.Lock()
	t.rows = next
	t.mu.Unlock()
}

// Clone returns a deep copy with a new table identity. Row identities and
// AppData are preserved.
func (t *Table) Clone() *Table {
	return t.clone(false)
}

// Stripped returns a deep copy with a new table identity and AppData
// removed at every depth.
func (t *Table) Stripped() *Table {
	return t.clone(true)
}

func (t *Table) clone(strip bool) *Table {
	rows := t.Rows()
	out := &Table{id: NewID(), rows: make([]*Row, len(rows))}
	for i, r := range rows {
		out.rows[i] = r.clone(strip)
	}
	return out
}

// Records returns the payload form of every row.
func (t *Table) Records() []Record {
	rows := t.Rows()
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.Record()
	}
	return out
}
