// Command bpcore is a small demonstration CLI around this module's
// streaming proxy core, in the shape of the teacher's own cmd/caddy:
// a root cobra.Command plus two subcommands: serve dials one upstream
// and runs a single demonstration request through the FastCGI or HTTP
// client, and diagnostics serves /metrics and /debug/vars.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	// Quietly adjust GOMAXPROCS to the container CPU quota, the same
	// ambient tuning caddy's entrypoint applies before anything else runs.
	undo, err := maxprocs.Set()
	defer undo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpcore: maxprocs: %v\n", err)
	}

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "bpcore",
		Short:         "A streaming reverse-proxy data plane core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newDiagnosticsCommand())
	return root
}
