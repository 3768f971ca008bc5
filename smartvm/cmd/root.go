// Package cmd provides the command-line interface for smartvm.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// newRootCmd creates the base command with all its subcommands.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "smartvm",
		Short: "smartvm exercises a demand-paged virtual memory system.",
		Long: `smartvm runs processes that read, write, and fork over a ` +
			`virtual memory system with a bounded number of physical frames ` +
			`and a swap file. It can record events, serve a live monitor, and ` +
			`inspect swap files.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd(), newSwapCmd())

	return rootCmd
}

// Execute runs the command line. Registered exit handlers, such as recorder
// flushes, run before the process exits.
func Execute() {
	err := newRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
