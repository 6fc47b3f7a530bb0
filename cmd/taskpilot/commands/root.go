// Package commands implements the taskpilot CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.2.0"
)

var configFileFlag string

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Autonomous task orchestration engine",
	Long: `Taskpilot keeps a queue of development tasks moving: deployment
failures become tasks, pending work is matched to registered agents,
failed work is retried or escalated, and idle capacity is pointed at
growth work discovered from the catalogue.

Configure taskpilot in taskpilot.yaml and run the orchestrator or the
background daemon.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFileFlag, "config", "", "Config file path (default: taskpilot.yaml in search path)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
}
