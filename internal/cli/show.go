package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tabula/internal/row"
)

// ShowResult is the JSON payload of the show command.
type ShowResult struct {
	Dataset string       `json:"dataset"`
	Tab     string       `json:"tab"`
	Rows    []row.Record `json:"rows"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var flags DataFlags

	cmd := &cobra.Command{
		Use:   "show <dataset|tab>",
		Short: "Print the rows of a dataset",
		Long: `Load a dataset (or a tab the catalog does not describe) and print its rows.

Examples:
  tabula show Packlists --db shows.db
  tabula show Packlists --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, rootOpts, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func runShow(cmd *cobra.Command, opts *RootOptions, flags DataFlags, name string) error {
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

	records := st.Data().Records()
	if opts.Format == "json" {
		return f.Success(ShowResult{Dataset: d.Name, Tab: d.Tab, Rows: records})
	}

	w := cmd.OutOrStdout()
	f.VerboseLog("%s: %d rows from tab %s", d.Name, len(records), d.Tab)
	for i, rec := range records {
		line, err := row.MarshalCanonical(rec)
		if err != nil {
			return f.commandError("failed to render row", err)
		}
		fmt.Fprintf(w, "%3d  %s\n", i, line)
	}
	return nil
}
