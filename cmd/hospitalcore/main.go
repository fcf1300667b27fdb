// Command hospitalcore runs the hospital workflow core against a durable
// store: it serves operational endpoints, seeds demo data, and prints read
// models.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hospitalcore",
		Short:         "Hospital workflow core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("env-file", ".env", "Path to an optional env file")

	root.AddCommand(serveCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(otReportCmd())
	root.AddCommand(claimsCmd())
	root.AddCommand(viewCmd())
	root.AddCommand(billSweepCmd())
	return root
}
