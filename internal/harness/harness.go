package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/tabula/internal/row"
	"github.com/roach88/tabula/internal/snapshot"
	"github.com/roach88/tabula/internal/testutil"
	"github.com/roach88/tabula/internal/undo"
)

// DefaultRoute is the active route when a scenario starts.
const DefaultRoute = "/"

// Harness is the scenario execution engine.
// It runs one scenario against a fresh in-memory source, with a fake clock
// driving the undo registry's selection cooldown.
type Harness struct {
	source *testutil.MemorySource
	store  *snapshot.Store
	undo   *undo.Registry
	clock  *testutil.FakeClock
	logger *slog.Logger
	seq    int64
}

// Run executes a scenario and returns the result.
//
// Step failures that the scenario did not expect and failed assertions
// are reported in the result; the returned error is reserved for the
// harness itself failing (e.g. ctx cancelled).
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h := newHarness(scenario)
	defer h.store.Close()

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}

		applied, err := h.execute(ctx, step)
		result.AddTrace(h.event(step, applied, err))

		if msg := checkStepError(step, err); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}

		h.logger.Info("flow step completed", "step", i, "op", step.Op, "error", err)
	}

	actx := &AssertionContext{
		Store:  h.store,
		Source: h.source,
		Undo:   h.undo,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) *Harness {
	recs := make([]row.Record, len(scenario.Source))
	for i, m := range scenario.Source {
		recs[i] = row.Record(m)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFakeClock(time.Time{})
	src := testutil.NewMemorySource(recs...)

	st := snapshot.New(src.Fetch, src.Save, []any{scenario.Name},
		snapshot.WithLogger(logger),
		snapshot.WithKeyFields(scenario.KeyFields...),
		snapshot.WithRequiredFields(scenario.RequiredFields...),
	)
	reg := undo.New(undo.WithClock(clock), undo.WithLogger(logger))
	reg.SetActiveRoute(DefaultRoute)

	return &Harness{
		source: src,
		store:  st,
		undo:   reg,
		clock:  clock,
		logger: logger,
	}
}

// execute runs one step. The bool result is non-nil for steps that may
// leave history unchanged (capture, undo, redo, analyze).
func (h *Harness) execute(ctx context.Context, step FlowStep) (*bool, error) {
	switch step.Op {
	case OpLoad:
		return nil, h.store.Load(ctx, step.Message)

	case OpSave:
		return nil, h.store.Save(ctx, step.Message)

	case OpAddRow:
		_, err := h.store.AddRow(row.Record(step.Row))
		return nil, err

	case OpSetField:
		r := h.store.Data().At(*step.Index)
		if r == nil {
			return nil, fmt.Errorf("no row at index %d (len %d)", *step.Index, h.store.Data().Len())
		}
		v, err := row.ParseValue(step.Value)
		if err != nil {
			return nil, err
		}
		r.Set(step.Field, v)
		return nil, nil

	case OpMarkDelete:
		mark := true
		if step.Mark != nil {
			mark = *step.Mark
		}
		return nil, h.store.MarkRowForDeletion(*step.Index, mark)

	case OpCapture:
		opts := undo.CaptureOptions{
			Type:              undo.ActionCellEdit,
			PreventDuplicates: step.PreventDuplicates,
		}
		if step.Type != "" {
			opts.Type = undo.ActionType(step.Type)
		}
		if step.Cell != nil {
			opts.Cell = &undo.CellInfo{RowIndex: step.Cell.Row, ColIndex: step.Cell.Col}
		}
		ok := h.undo.Capture([]*row.Table{h.store.Data()}, step.Route, opts)
		return &ok, nil

	case OpUndo:
		ok := h.undo.Undo()
		return &ok, nil

	case OpRedo:
		ok := h.undo.Redo()
		return &ok, nil

	case OpRoute:
		h.undo.SetActiveRoute(step.Route)
		return nil, nil

	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return nil, err
		}
		h.clock.Advance(d)
		return nil, nil

	case OpAnalyze:
		opts := snapshot.DefaultAnalysisOptions()
		opts.Delay = 0
		steps := []snapshot.Step{
			snapshot.RequiredFieldsStep(step.Fields...),
			snapshot.DuplicateStep(step.Fields...),
		}
		ran, err := h.store.RunAnalysis(ctx, steps, opts)
		return &ran, err

	case OpFail:
		var err error
		if step.Message != "" {
			err = errors.New(step.Message)
		}
		if step.Target == "fetch" {
			h.source.SetFetchErr(err)
		} else {
			h.source.SetSaveErr(err)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

// event records step and the state it left behind.
func (h *Harness) event(step FlowStep, applied *bool, err error) TraceEvent {
	h.seq++
	stats := h.undo.Stats(h.undo.ActiveRoute())
	ev := TraceEvent{
		Seq:     h.seq,
		Op:      step.Op,
		Args:    stepArgs(step),
		Applied: applied,
		Rows:    h.store.Data().Len(),
		Undo:    stats.UndoDepth,
		Redo:    stats.RedoDepth,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// stepArgs collects the fields a step set, for the trace.
func stepArgs(s FlowStep) map[string]any {
	args := make(map[string]any)
	if s.Index != nil {
		args["index"] = *s.Index
	}
	if s.Field != "" {
		args["field"] = s.Field
	}
	if s.Value != nil {
		args["value"] = s.Value
	}
	if s.Row != nil {
		args["row"] = s.Row
	}
	if s.Mark != nil {
		args["mark"] = *s.Mark
	}
	if s.Message != "" {
		args["message"] = s.Message
	}
	if s.Route != "" {
		args["route"] = s.Route
	}
	if s.Type != "" {
		args["type"] = s.Type
	}
	if s.Cell != nil {
		args["cell"] = map[string]any{"row": s.Cell.Row, "col": s.Cell.Col}
	}
	if s.PreventDuplicates {
		args["prevent_duplicates"] = true
	}
	if s.Duration != "" {
		args["duration"] = s.Duration
	}
	if len(s.Fields) > 0 {
		args["fields"] = s.Fields
	}
	if s.Target != "" {
		args["target"] = s.Target
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// checkStepError compares err with the step's expectation and returns a
// failure message, or "" when they agree.
func checkStepError(step FlowStep, err error) string {
	switch {
	case step.ExpectError == "" && err != nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case step.ExpectError != "" && err == nil:
		return fmt.Sprintf("expected error containing %q, got none", step.ExpectError)
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		return fmt.Sprintf("expected error containing %q, got %q", step.ExpectError, err.Error())
	}
	return ""
}
