// Package snapshot holds the working copy and original copy of one dataset
// and drives its load, save, and analysis lifecycle.
//
// A Store owns two tables:
//
//   - Data: the live rows consumers read and edit
//   - Original: the last state confirmed by the source
//
// Every row carries AppData (see package row). AppData is never sent to the
// save function and never compared when deciding whether the store is dirty.
//
// Load, Save, and Reset each advance a generation counter. A fetch or save
// that completes after a newer operation started is discarded and returns
// ErrSuperseded instead of overwriting newer state.
package snapshot
