package undo

import (
	"slices"
	"strings"
	"sync"

	"github.com/roach88/tabula/internal/row"
)

// Selection identifies one selected row.
//
// RowID is tried first on restore. Index and Identity are fallbacks for
// rows whose identity changed (for example after a reload).
type Selection struct {
	TableID  string
	RowID    string
	Index    int
	Identity map[string]string
}

// SelectionTracker is the host's row selection. The registry reads it when
// capturing and rewrites it when restoring.
type SelectionTracker interface {
	Selections() []Selection
	AddRow(t *row.Table, r *row.Row, index int)
	ClearTable(tableID string)
	SelectionCount() int
}

// SelectionSet is an in-memory SelectionTracker. Identity values are
// recorded from the configured identity fields when a row is added.
//
// Thread-safety: all methods are safe for concurrent use.
type SelectionSet struct {
	identityFields []string

	mu   sync.Mutex
	sels []Selection
}

// NewSelectionSet creates an empty selection that records identityFields.
func NewSelectionSet(identityFields ...string) *SelectionSet {
	return &SelectionSet{identityFields: append([]string(nil), identityFields...)}
}

// Selections returns a copy of the current selection in insertion order.
func (s *SelectionSet) Selections() []Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Selection, len(s.sels))
	for i, sel := range s.sels {
		out[i] = cloneSelection(sel)
	}
	return out
}

// AddRow selects r at index within t. Selecting a row twice is a no-op.
func (s *SelectionSet) AddRow(t *row.Table, r *row.Row, index int) {
	if t == nil || r == nil {
		return
	}
	sel := Selection{
		TableID:  t.ID(),
		RowID:    r.ID(),
		Index:    index,
		Identity: identityOf(r, s.identityFields),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sels {
		if existing.TableID == sel.TableID && existing.RowID == sel.RowID {
			return
		}
	}
	s.sels = append(s.sels, sel)
}

// Toggle selects r if it is not selected and deselects it otherwise.
// Reports whether r is selected afterwards.
func (s *SelectionSet) Toggle(t *row.Table, r *row.Row, index int) bool {
	s.mu.Lock()
	for i, existing := range s.sels {
		if existing.TableID == t.ID() && existing.RowID == r.ID() {
			s.sels = slices.Delete(s.sels, i, i+1)
			s.mu.Unlock()
			return false
		}
	}
	s.mu.Unlock()
	s.AddRow(t, r, index)
	return true
}

// ClearTable deselects every row of the table.
func (s *SelectionSet) ClearTable(tableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sels = slices.DeleteFunc(s.sels, func(sel Selection) bool {
		return sel.TableID == tableID
	})
}

// SelectionCount returns the number of selected rows.
func (s *SelectionSet) SelectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sels)
}

func identityOf(r *row.Row, fields []string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f] = r.Text(f)
	}
	return out
}

// matchesIdentity reports whether r carries every recorded identity value.
// An empty identity never matches.
func matchesIdentity(r *row.Row, identity map[string]string) bool {
	if r == nil || len(identity) == 0 {
		return false
	}
	nonEmpty := false
	for f, want := range identity {
		if strings.TrimSpace(want) != "" {
			nonEmpty = true
		}
		if r.Text(f) != want {
			return false
		}
	}
	return nonEmpty
}

func cloneSelection(sel Selection) Selection {
	if sel.Identity != nil {
		id := make(map[string]string, len(sel.Identity))
		for k, v := range sel.Identity {
			id[k] = v
		}
		sel.Identity = id
	}
	return sel
}
