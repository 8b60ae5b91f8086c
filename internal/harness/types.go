package harness

// TraceEvent records one executed flow step and the state after it.
type TraceEvent struct {
	Seq  int64          `json:"seq"`
	Op   string         `json:"op"`
	Args map[string]any `json:"args,omitempty"`

	// Applied reports whether a capture, undo or redo changed history.
	Applied *bool `json:"applied,omitempty"`

	// Error is the step's error message, if any.
	Error string `json:"error,omitempty"`

	Rows int `json:"rows"`
	Undo int `json:"undo"`
	Redo int `json:"redo"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when no step failed unexpectedly and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
