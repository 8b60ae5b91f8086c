// Command tabula loads, analyzes and saves workbook datasets.
//
// Usage:
//
//	tabula [--config tabula.yaml] [--format text|json] [-v] <command>
//
// Commands: tabs, show, import, export, analyze, test. Run "tabula help <command>"
// for details.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/tabula/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
