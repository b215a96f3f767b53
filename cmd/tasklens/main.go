package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "tasklens",
	Short: "Semantic triage over your team's ticket history",
	Long: `tasklens embeds your resolved tickets, clusters them into themes, and
serves analysis for new work: nearest matches, likely owners, scope and
strategy drift.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(scopeCmd)
	rootCmd.AddCommand(storyCmd)
	rootCmd.AddCommand(strategyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
