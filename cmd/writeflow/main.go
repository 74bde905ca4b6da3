// Command writeflow is the interactive CLI entry point for the agent
// runtime: it loads configuration, wires the queue/compressor/registry/
// dispatcher/orchestrator stack, and drives a REPL over stdin/stdout.
//
// A single "run" subcommand starts the REPL; structured logging goes
// through internal/observability.Logger rather than a bare
// slog.NewJSONHandler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separated from main for
// testability.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "writeflow",
		Short:        "WriteFlow - an interactive AI writing assistant",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}
