package row

// AppData is per-row bookkeeping owned by the application, not the source.
//
// It is never part of a Record payload and never part of an undo snapshot.
// Restoring a snapshot carries the live AppData over by index instead.
type AppData struct {
	// MarkedForDeletion excludes the row from the next save payload.
	MarkedForDeletion bool

	// Analyzing is set while an analysis run still has work for this row.
	Analyzing bool

	// Analyzed is set once every step of a run has visited this row.
	Analyzed bool

	// Err holds the last per-row analysis failure ("" when none).
	Err string

	// Derived holds values written by analysis steps.
	Derived map[string]Value
}

// Clone returns a deep copy of a.
func (a AppData) Clone() AppData {
	out := a
	if a.Derived != nil {
		out.Derived = make(map[string]Value, len(a.Derived))
		for k, v := range a.Derived {
			out.Derived[k] = cloneValue(v, false)
		}
	}
	return out
}
