package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ordino",
	Short: "Adaptive task orchestration",
	Long: `Ordino classifies tasks by complexity, decomposes them into
dependency graphs, routes subtasks across a worker fleet, and aggregates
the results.

Tasks run under execution tiers from simple to deep. Resource exhaustion
walks the downgrade chain instead of failing outright; transient failures
are retried with backoff on a different worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
