package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagecast",
		Short: "Stagecast - Stage Orchestration Engine",
		Long: `Stagecast orchestrates ordered stages of remote work across a host
fleet. A stage document names stages, their target selectors, their unit
of work, and the requisites between them; the engine resolves the stages
in order and records the outcome of every pass.

Features:
  - YAML, CUE, and Starlark stage documents
  - Requisite-driven stage ordering with recorded failures
  - SSH fleet dispatch through an ephemeral stage-runner agent
  - Local dispatch with WASM plugin functions
  - Rego policy gating before every pass
  - SQLite pass history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "stagecast.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStreamCommand())
	rootCmd.AddCommand(newHostsCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
