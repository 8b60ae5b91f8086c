package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tabula/internal/row"
)

// ImportResult is the JSON payload of the import command.
type ImportResult struct {
	Dataset string `json:"dataset"`
	Tab     string `json:"tab"`
	Added   int    `json:"added"`
	Rows    int    `json:"rows"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var flags DataFlags

	cmd := &cobra.Command{
		Use:   "import <dataset|tab> <file>",
		Short: "Append rows from a JSON, YAML or XLSX file and save",
		Long: `Append the rows of a JSON or YAML file (an array of objects) or of the
first sheet of an XLSX file (header row first) to a dataset, padding each
with the dataset's required fields, then save the tab. The tab is created
if it does not exist.

Examples:
  tabula import Packlists new-rows.yaml --db shows.db
  tabula import Inventory stock.json
  tabula import Schedule schedule.xlsx`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, flags, args[0], args[1])
		},
	}
	flags.register(cmd)
	return cmd
}

func runImport(cmd *cobra.Command, opts *RootOptions, flags DataFlags, name, file string) error {
	recs, err := readRecords(file)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", file), err)
	}

	ws, err := openWorkspace(cmd, opts, flags, false)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	f := newFormatter(cmd, opts)
	d, _ := ws.dataset(name)

	if err := ws.db.EnsureTab(ctx, d.Tab); err != nil {
		return f.commandError("failed to create tab", err)
	}
	st, err := ws.store(ctx, d)
	if err != nil {
		return f.commandError("failed to open dataset", err)
	}
	if err := st.Load(ctx, "Loading..."); err != nil {
		return f.commandError(fmt.Sprintf("failed to load %s", d.Tab), err)
	}

	for i, rec := range recs {
		if _, err := st.AddRow(rec); err != nil {
			return f.commandError(fmt.Sprintf("row %d", i), err)
		}
	}
	if err := st.Save(ctx, "Saving..."); err != nil {
		return f.commandError(fmt.Sprintf("failed to save %s", d.Tab), err)
	}
	ws.logger.Info("import complete", "tab", d.Tab, "added", len(recs))

	result := ImportResult{Dataset: d.Name, Tab: d.Tab, Added: len(recs), Rows: st.Data().Len()}
	if opts.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d rows into %s (%d rows total)\n", result.Added, result.Tab, result.Rows)
	return nil
}

// readRecords reads an array of objects from a .json, .yaml or .yml file,
// or the first sheet of an .xlsx file.
func readRecords(path string) ([]row.Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSXRecords(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return row.DecodeRecords(data)
	case ".yaml", ".yml":
		var raw []map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		recs := make([]row.Record, len(raw))
		for i, m := range raw {
			recs[i] = row.Record(m)
		}
		return recs, nil
	}
	return nil, fmt.Errorf("unsupported file type %q (want .json, .yaml, .yml or .xlsx)", filepath.Ext(path))
}
