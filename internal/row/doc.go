// Package row defines the record model shared by every tabula component.
//
// A dataset is a Table: an ordered list of Rows with a stable identity.
// Each Row carries:
//   - Fields: the persisted values (String, Int, Bool, Null, or a nested
//     List of rows)
//   - AppData: typed bookkeeping that is NEVER persisted and NEVER captured
//     by undo snapshots (deletion marks, analysis state, derived values)
//
// # Identity
//
// Tables and rows get UUIDv7 identifiers on creation. Clone preserves the
// identifier so a row can be re-located after a snapshot/restore round trip
// without relying on pointer equality.
//
// # Payload form
//
// Record is the plain map form exchanged with external sources. Converting
// a Row to a Record strips AppData at every nesting depth; converting a
// Record to a Row attaches a fresh AppData at every depth.
//
// # Canonical JSON
//
// MarshalCanonical produces RFC 8785 style JSON (sorted keys, NFC strings,
// no floats). It is the only serialization used for cache keys, dirty
// detection, and golden traces.
package row
