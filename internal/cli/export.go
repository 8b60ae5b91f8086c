package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tabula/internal/row"
)

// ExportResult is the JSON payload of the export command.
type ExportResult struct {
	Dataset string `json:"dataset"`
	Tab     string `json:"tab"`
	Path    string `json:"path"`
	Rows    int    `json:"rows"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var flags DataFlags

	cmd := &cobra.Command{
		Use:   "export <dataset|tab> <file>",
		Short: "Write the rows of a dataset to an XLSX or JSON file",
		Long: `Load a dataset and write its rows to a file. An .xlsx file gets one sheet
named after the tab, with the dataset's required fields as the first
columns. A .json file gets the rows as an array of objects.

Examples:
  tabula export Packlists packlists.xlsx --db shows.db
  tabula export Inventory stock.json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, rootOpts, flags, args[0], args[1])
		},
	}
	flags.register(cmd)
	return cmd
}

func runExport(cmd *cobra.Command, opts *RootOptions, flags DataFlags, name, file string) error {
	ext := strings.ToLower(filepath.Ext(file))
	if ext != ".xlsx" && ext != ".json" {
		return NewExitError(ExitCommandError, fmt.Sprintf("unsupported file type %q (want .xlsx or .json)", filepath.Ext(file)))
	}

	ws, err := openWorkspace(cmd, opts, flags, false)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()
	f := newFormatter(cmd, opts)
	d, _ := ws.dataset(name)

	st, err := ws.store(ctx, d)
	if err != nil {
		return f.commandError("failed to open dataset", err)
	}
	if err := st.Load(ctx, "Loading..."); err != nil {
		return f.commandError(fmt.Sprintf("failed to load %s", d.Tab), err)
	}

	rows := st.Data().Rows()
	if ext == ".xlsx" {
		err = writeXLSX(file, d.Tab, rows, d.Required)
	} else {
		err = writeJSONRecords(file, st.Data().Records())
	}
	if err != nil {
		return f.commandError(fmt.Sprintf("failed to write %s", file), err)
	}
	ws.logger.Info("export complete", "tab", d.Tab, "rows", len(rows), "path", file)

	result := ExportResult{Dataset: d.Name, Tab: d.Tab, Path: file, Rows: len(rows)}
	if opts.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d rows from %s to %s\n", result.Rows, result.Tab, result.Path)
	return nil
}

func writeJSONRecords(path string, recs []row.Record) error {
	data, err := row.MarshalCanonical(recs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
