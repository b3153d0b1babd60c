package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "tao",
	Short:         "Interaction history with per-domain learning analysis",
	Long:          "tao records query/response interactions per knowledge domain and derives sessions, reasoning chains, related items, concept timelines, and a composite learning index from the history.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(conceptsCmd)
	rootCmd.AddCommand(depthCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(benchmarkCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
