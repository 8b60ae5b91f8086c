package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/tabula/internal/row"
	"github.com/roach88/tabula/internal/snapshot"
	"github.com/roach88/tabula/internal/testutil"
	"github.com/roach88/tabula/internal/undo"
)

// AssertionContext holds what assertions inspect after the flow ran.
type AssertionContext struct {
	Store  *snapshot.Store
	Source *testutil.MemorySource
	Undo   *undo.Registry
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v", event.Seq, event.Op, event.Args)
			if event.Error != "" {
				fmt.Fprintf(&buf, " error=%q", event.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if actx == nil || actx.Store == nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %s requires a store", i, assertion.Type))
			continue
		}

		switch assertion.Type {
		case AssertDataEquals:
			err = assertRecords(AssertDataEquals, assertion.Rows, actx.Store.Data().Records(), result.Trace)
		case AssertPayloadEquals:
			err = assertPayload(actx, assertion, result.Trace)
		case AssertUndoDepth:
			err = assertUndoDepth(actx, assertion, result.Trace)
		case AssertErrorContains:
			err = assertErrorContains(actx, assertion, result.Trace)
		case AssertDirty:
			if got := actx.Store.IsDirty(); got != *assertion.Dirty {
				err = &AssertionError{
					Type:     AssertDirty,
					Expected: fmt.Sprintf("dirty=%t", *assertion.Dirty),
					Actual:   fmt.Sprintf("dirty=%t", got),
					Trace:    result.Trace,
				}
			}
		case AssertDerivedEquals:
			err = assertDerived(actx, assertion, result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertRecords compares records by canonical JSON, so integer widths
// and map ordering do not matter.
func assertRecords(typ string, want []map[string]any, got []row.Record, trace []TraceEvent) error {
	wantJSON, err := canonicalRecords(want)
	if err != nil {
		return fmt.Errorf("%s: expected rows: %w", typ, err)
	}
	gotJSON, err := row.MarshalCanonical(got)
	if err != nil {
		return fmt.Errorf("%s: actual rows: %w", typ, err)
	}
	if wantJSON != string(gotJSON) {
		return &AssertionError{
			Type:     typ,
			Expected: wantJSON,
			Actual:   string(gotJSON),
			Trace:    trace,
		}
	}
	return nil
}

func canonicalRecords(recs []map[string]any) (string, error) {
	norm := make([]row.Record, len(recs))
	for i, m := range recs {
		r, err := row.FromRecord(row.Record(m))
		if err != nil {
			return "", fmt.Errorf("row %d: %w", i, err)
		}
		norm[i] = r.Record()
	}
	data, err := row.MarshalCanonical(norm)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func assertPayload(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	if actx.Source == nil {
		return fmt.Errorf("%s requires a source", AssertPayloadEquals)
	}
	saved := actx.Source.Saved()
	if len(saved) == 0 {
		return &AssertionError{
			Type:     AssertPayloadEquals,
			Expected: "at least one save",
			Actual:   "nothing was saved",
			Trace:    trace,
		}
	}
	return assertRecords(AssertPayloadEquals, a.Rows, saved[len(saved)-1], trace)
}

func assertUndoDepth(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	if actx.Undo == nil {
		return fmt.Errorf("%s requires an undo registry", AssertUndoDepth)
	}
	route := a.Route
	if route == "" {
		route = actx.Undo.ActiveRoute()
	}
	stats := actx.Undo.Stats(route)

	if stats.UndoDepth != *a.Undo || (a.Redo != nil && stats.RedoDepth != *a.Redo) {
		expected := fmt.Sprintf("route %q undo=%d", route, *a.Undo)
		if a.Redo != nil {
			expected += fmt.Sprintf(" redo=%d", *a.Redo)
		}
		return &AssertionError{
			Type:     AssertUndoDepth,
			Expected: expected,
			Actual:   fmt.Sprintf("undo=%d redo=%d", stats.UndoDepth, stats.RedoDepth),
			Trace:    trace,
		}
	}
	return nil
}

func assertErrorContains(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	got := actx.Store.State().Error
	if a.Message == "" {
		if got == "" {
			return nil
		}
		return &AssertionError{
			Type:     AssertErrorContains,
			Expected: "no error",
			Actual:   fmt.Sprintf("%q", got),
			Trace:    trace,
		}
	}
	if !strings.Contains(got, a.Message) {
		return &AssertionError{
			Type:     AssertErrorContains,
			Expected: fmt.Sprintf("error containing %q", a.Message),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertDerived(actx *AssertionContext, a Assertion, trace []TraceEvent) error {
	r := actx.Store.Data().At(*a.Index)
	if r == nil {
		return fmt.Errorf("%s: no row at index %d", AssertDerivedEquals, *a.Index)
	}
	want, err := row.ParseValue(a.Value)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", AssertDerivedEquals, err)
	}
	wantJSON, err := row.MarshalCanonical(want)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", AssertDerivedEquals, err)
	}

	got, ok := r.Derived(a.Key)
	actual := "missing"
	if ok {
		gotJSON, err := row.MarshalCanonical(got)
		if err != nil {
			return fmt.Errorf("%s: actual value: %w", AssertDerivedEquals, err)
		}
		if string(gotJSON) == string(wantJSON) {
			return nil
		}
		actual = string(gotJSON)
	}
	return &AssertionError{
		Type:     AssertDerivedEquals,
		Expected: fmt.Sprintf("row %d %s=%s", *a.Index, a.Key, wantJSON),
		Actual:   actual,
		Trace:    trace,
	}
}
