package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tabula/internal/undo"
)

// Scenario defines one store scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// KeyFields are identity fields; rows holding only these are
	// placeholders that mark_delete removes outright.
	KeyFields []string `yaml:"key_fields,omitempty"`

	// RequiredFields are added to every new row.
	RequiredFields []string `yaml:"required_fields,omitempty"`

	// Source is the initial content of the in-memory dataset.
	Source []map[string]any `yaml:"source,omitempty"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one operation. Which fields apply depends on Op.
type FlowStep struct {
	Op string `yaml:"op"`

	Index   *int           `yaml:"index,omitempty"`
	Field   string         `yaml:"field,omitempty"`
	Value   any            `yaml:"value,omitempty"`
	Row     map[string]any `yaml:"row,omitempty"`
	Mark    *bool          `yaml:"mark,omitempty"`
	Message string         `yaml:"message,omitempty"`

	// capture / route
	Route             string    `yaml:"route,omitempty"`
	Type              string    `yaml:"type,omitempty"`
	Cell              *CellStep `yaml:"cell,omitempty"`
	PreventDuplicates bool      `yaml:"prevent_duplicates,omitempty"`

	// advance
	Duration string `yaml:"duration,omitempty"`

	// analyze
	Fields []string `yaml:"fields,omitempty"`

	// fail: "fetch" or "save"; an empty message clears the failure.
	Target string `yaml:"target,omitempty"`

	// ExpectError, when set, requires the step to fail with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// CellStep is the cell a capture applies to.
type CellStep struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

// Step operation names.
const (
	OpLoad       = "load"
	OpSave       = "save"
	OpAddRow     = "add_row"
	OpSetField   = "set_field"
	OpMarkDelete = "mark_delete"
	OpCapture    = "capture"
	OpUndo       = "undo"
	OpRedo       = "redo"
	OpRoute      = "route"
	OpAdvance    = "advance"
	OpAnalyze    = "analyze"
	OpFail       = "fail"
)

// Assertion validates final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Rows are the expected records (data_equals, payload_equals).
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Route, Undo and Redo are used by undo_depth. An empty route means
	// the active route; a nil Redo is not checked.
	Route string `yaml:"route,omitempty"`
	Undo  *int   `yaml:"undo,omitempty"`
	Redo  *int   `yaml:"redo,omitempty"`

	// Message is the expected error substring (error_contains).
	Message string `yaml:"message,omitempty"`

	// Dirty is the expected dirty flag (dirty).
	Dirty *bool `yaml:"dirty,omitempty"`

	// Index, Key and Value select a derived value (derived_equals).
	Index *int   `yaml:"index,omitempty"`
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertDataEquals    = "data_equals"
	AssertPayloadEquals = "payload_equals"
	AssertUndoDepth     = "undo_depth"
	AssertErrorContains = "error_contains"
	AssertDirty         = "dirty"
	AssertDerivedEquals = "derived_equals"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *FlowStep) error {
	switch s.Op {
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	case OpLoad, OpSave, OpUndo, OpRedo:
	case OpAddRow:
		if s.Row == nil {
			return fmt.Errorf("flow[%d]: add_row requires row", index)
		}
	case OpSetField:
		if s.Index == nil || s.Field == "" {
			return fmt.Errorf("flow[%d]: set_field requires index and field", index)
		}
	case OpMarkDelete:
		if s.Index == nil {
			return fmt.Errorf("flow[%d]: mark_delete requires index", index)
		}
	case OpCapture:
		if s.Type != "" && !validActionType(undo.ActionType(s.Type)) {
			return fmt.Errorf("flow[%d]: unknown capture type %q", index, s.Type)
		}
	case OpRoute:
		if s.Route == "" {
			return fmt.Errorf("flow[%d]: route requires route", index)
		}
	case OpAdvance:
		if _, err := time.ParseDuration(s.Duration); err != nil {
			return fmt.Errorf("flow[%d]: advance requires a duration: %w", index, err)
		}
	case OpAnalyze:
		if len(s.Fields) == 0 {
			return fmt.Errorf("flow[%d]: analyze requires fields", index)
		}
	case OpFail:
		if s.Target != "fetch" && s.Target != "save" {
			return fmt.Errorf("flow[%d]: fail target must be fetch or save, got %q", index, s.Target)
		}
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertDataEquals, AssertPayloadEquals, AssertErrorContains:
	case AssertUndoDepth:
		if a.Undo == nil {
			return fmt.Errorf("assertions[%d]: undo_depth requires undo", index)
		}
	case AssertDirty:
		if a.Dirty == nil {
			return fmt.Errorf("assertions[%d]: dirty requires dirty", index)
		}
	case AssertDerivedEquals:
		if a.Index == nil || a.Key == "" {
			return fmt.Errorf("assertions[%d]: derived_equals requires index and key", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validActionType(t undo.ActionType) bool {
	switch t {
	case undo.ActionCellEdit, undo.ActionRowAdd, undo.ActionRowDelete,
		undo.ActionRowMove, undo.ActionSelectionToggle, undo.ActionBulkEdit:
		return true
	}
	return false
}
