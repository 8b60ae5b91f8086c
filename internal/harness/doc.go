// Package harness runs YAML scenarios against a snapshot store and an
// undo registry, and checks the outcome.
//
// # Scenario Format
//
//	name: delete-readd-save
//	description: "Deleting a placeholder row and re-adding it saves cleanly"
//	key_fields: [Show, Client]
//	source:
//	  - { Show: Expo, Client: Acme }
//	flow:
//	  - op: load
//	  - op: mark_delete
//	    index: 0
//	  - op: add_row
//	    row: { Show: Expo2, Client: Acme2 }
//	  - op: save
//	assertions:
//	  - type: payload_equals
//	    rows:
//	      - { Show: Expo2, Client: Acme2 }
//
// The source is an in-memory dataset; save replaces it with the payload.
// Every step appends one TraceEvent. The trace is deterministic (the
// cooldown clock is fake and starts at a fixed instant), so it can be
// compared against a golden file with RunWithGolden.
//
// # Steps
//
//   - load, save: run Store.Load / Store.Save
//   - add_row: append row, padded with required_fields
//   - set_field: set field to value on the row at index
//   - mark_delete: flag (or with mark: false, unflag) the row at index
//   - capture: snapshot the data table under route (default: active route)
//   - undo, redo: step the active route's history
//   - route: switch the active route
//   - advance: move the fake clock by duration
//   - analyze: run the required-fields and duplicate steps over fields
//   - fail: make the source's fetch or save (target) return message
//
// A step with expect_error must fail with an error containing that text;
// any other step failure is a scenario error.
//
// # Assertions
//
//   - data_equals: the store's rows, AppData stripped
//   - payload_equals: the last payload the source received
//   - undo_depth: undo (and optionally redo) stack sizes of route
//   - error_contains: the store's error state (empty message: no error)
//   - dirty: the store's dirty flag
//   - derived_equals: a derived value of the row at index
package harness
