package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTabsCommand creates the tabs command.
func NewTabsCommand(rootOpts *RootOptions) *cobra.Command {
	var flags DataFlags

	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "List workbook tabs",
		Long: `List every tab of the workbook with its row count and revision.

Examples:
  tabula tabs --db shows.db
  tabula tabs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTabs(cmd, rootOpts, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runTabs(cmd *cobra.Command, opts *RootOptions, flags DataFlags) error {
	ws, err := openWorkspace(cmd, opts, flags, false)
	if err != nil {
		return err
	}
	defer ws.Close()

	f := newFormatter(cmd, opts)
	tabs, err := ws.db.ListTabs(cmd.Context())
	if err != nil {
		return f.commandError("failed to list tabs", err)
	}

	if opts.Format == "json" {
		return f.Success(tabs)
	}

	w := cmd.OutOrStdout()
	if len(tabs) == 0 {
		fmt.Fprintln(w, "No tabs.")
		return nil
	}
	for _, tab := range tabs {
		fmt.Fprintf(w, "%-24s %6d rows  rev %d\n", tab.Name, tab.Rows, tab.Revision)
	}
	return nil
}
