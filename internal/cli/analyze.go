package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tabula/internal/catalog"
	"github.com/roach88/tabula/internal/row"
	"github.com/roach88/tabula/internal/snapshot"
)

// AnalyzedRow is one row of the analyze command's output.
type AnalyzedRow struct {
	Index   int               `json:"index"`
	Error   string            `json:"error,omitempty"`
	Derived map[string]string `json:"derived"`
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	var flags DataFlags

	cmd := &cobra.Command{
		Use:   "analyze <dataset>",
		Short: "Run a dataset's analysis steps and print derived fields",
		Long: `Run the analysis steps the catalog lists for a dataset (required fields,
duplicates, cross references) and print the derived values of each row.
Nothing is saved.

Exit codes:
  0 - Analysis ran (row-level failures are reported per row)
  1 - Loading or analysis failed
  2 - Command error (no catalog, unknown dataset, etc.)

Examples:
  tabula analyze Packlists --catalog ./catalog
  tabula analyze Packlists --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, rootOpts, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *RootOptions, flags DataFlags, name string) error {
	ws, err := openWorkspace(cmd, opts, flags, true)
	if err != nil {
		return err
	}
	defer ws.Close()

	d, ok := ws.dataset(name)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown dataset %q", name))
	}

	ctx := cmd.Context()
	f := newFormatter(cmd, opts)

	st, err := ws.store(ctx, d)
	if err != nil {
		return f.commandError("failed to open dataset", err)
	}
	if err := st.Load(ctx, "Loading..."); err != nil {
		return f.commandError(fmt.Sprintf("failed to load %s", d.Tab), err)
	}

	steps, err := analysisSteps(ctx, ws, d)
	if err != nil {
		return f.commandError("failed to prepare analysis", err)
	}
	if _, err := st.RunAnalysis(ctx, steps, ws.cfg.AnalysisOptions()); err != nil {
		return f.commandError("analysis failed", err)
	}

	rows := analyzedRows(st.Data())
	if opts.Format == "json" {
		return f.Success(rows)
	}

	w := cmd.OutOrStdout()
	for _, r := range rows {
		keys := make([]string, 0, len(r.Derived))
		for k := range r.Derived {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		parts := make([]string, 0, len(keys)+1)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%q", k, r.Derived[k]))
		}
		if r.Error != "" {
			parts = append(parts, fmt.Sprintf("error=%q", r.Error))
		}
		fmt.Fprintf(w, "%3d  %s\n", r.Index, strings.Join(parts, " "))
	}
	return nil
}

// analysisSteps builds d's steps. Cross-referenced datasets are loaded
// through the workspace registry.
func analysisSteps(ctx context.Context, ws *workspace, d catalog.Dataset) ([]snapshot.Step, error) {
	var steps []snapshot.Step
	for _, name := range d.Steps {
		switch name {
		case catalog.StepRequired:
			steps = append(steps, snapshot.RequiredFieldsStep(d.Required...))
		case catalog.StepDuplicates:
			fields := d.Identity
			if len(fields) == 0 {
				fields = d.Required
			}
			steps = append(steps, snapshot.DuplicateStep(fields...))
		}
	}

	for _, ref := range d.CrossReference {
		other, _ := ws.dataset(ref.Dataset)
		st, err := ws.store(ctx, other)
		if err != nil {
			return nil, err
		}
		if err := st.Load(ctx, "Loading..."); err != nil {
			return nil, fmt.Errorf("cross reference %s: %w", ref.Dataset, err)
		}
		steps = append(steps, snapshot.CrossReferenceStep(st, ref.Field, ref.As))
	}
	return steps, nil
}

func analyzedRows(t *row.Table) []AnalyzedRow {
	out := make([]AnalyzedRow, 0, t.Len())
	for i, r := range t.Rows() {
		app := r.App()
		derived := make(map[string]string, len(app.Derived))
		for k, v := range app.Derived {
			derived[k] = row.Text(v)
		}
		out = append(out, AnalyzedRow{Index: i, Error: app.Err, Derived: derived})
	}
	return out
}
