package undo

import (
	"time"
	"weak"

	"github.com/roach88/tabula/internal/row"
)

// tableSnapshot is the field content of one table at capture time.
type tableSnapshot struct {
	tableID string
	ref     weak.Pointer[row.Table]
	rows    []*row.Row // stripped deep clones
}

// entry is one undo or redo step.
type entry struct {
	id     string
	typ    ActionType
	cell   *CellInfo
	at     time.Time
	tables []tableSnapshot

	// selections is nil when the capture did not record a selection.
	selections []Selection
}

func snapshotTable(t *row.Table) tableSnapshot {
	rows := t.Rows()
	snap := tableSnapshot{
		tableID: t.ID(),
		ref:     weak.Make(t),
		rows:    make([]*row.Row, len(rows)),
	}
	for i, r := range rows {
		snap.rows[i] = r.Stripped()
	}
	return snap
}

func newEntry(typ ActionType, cell *CellInfo, tables []*row.Table, selections []Selection, at time.Time) *entry {
	if cell != nil {
		c := *cell
		cell = &c
	}
	e := &entry{
		id:         row.NewID(),
		typ:        typ,
		cell:       cell,
		at:         at,
		tables:     make([]tableSnapshot, 0, len(tables)),
		selections: selections,
	}
	for _, t := range tables {
		if t != nil && !e.has(t.ID()) {
			e.tables = append(e.tables, snapshotTable(t))
		}
	}
	return e
}

func (e *entry) has(tableID string) bool {
	for _, ts := range e.tables {
		if ts.tableID == tableID {
			return true
		}
	}
	return false
}

// live returns the tables of e that have not been collected.
func (e *entry) live() []*row.Table {
	out := make([]*row.Table, 0, len(e.tables))
	for _, ts := range e.tables {
		if t := ts.ref.Value(); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// restore writes the snapshot back into each live table in place. Each
// restored row takes the AppData of the live row at the same index.
func (e *entry) restore() []*row.Table {
	var restored []*row.Table
	for _, ts := range e.tables {
		t := ts.ref.Value()
		if t == nil {
			continue
		}
		live := t.Rows()
		rows := make([]*row.Row, len(ts.rows))
		for i, snap := range ts.rows {
			r := snap.Clone()
			if i < len(live) {
				row.CarryApp(r, live[i])
			}
			rows[i] = r
		}
		t.Replace(rows)
		restored = append(restored, t)
	}
	return restored
}
