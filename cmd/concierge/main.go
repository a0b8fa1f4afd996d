// Package main is the concierge CLI.
//
// Start the server:
//
//	concierge serve --config concierge.yaml
//
// Configuration can reference environment variables; the file is
// expanded before parsing, so provider keys are typically supplied as
// ${ANTHROPIC_API_KEY} and friends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "concierge",
		Short:        "Concierge - conversational tool-execution orchestrator",
		Long:         "Concierge runs multi-tenant assistant conversations against LLM providers,\nvalidating and executing tenant-defined tools through an external workflow engine.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the concierge server",
		Long: `Start the concierge server.

The server loads configuration, connects Postgres and Redis, constructs
the configured LLM providers and begins accepting messages over HTTP.
Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  concierge serve

  # Start with custom config and debug logging
  concierge serve --config /etc/concierge/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "concierge.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
