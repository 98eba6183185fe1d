package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ganymede",
	Short: "Ganymede - Anthropic/OpenAI gateway for Kiro",
	Long: `Ganymede is a local HTTP gateway that exposes the Anthropic Messages API
and the OpenAI Chat Completions API in front of the Kiro coding service.

Point any Anthropic or OpenAI SDK at it and requests are translated to
Kiro's event-stream protocol, with:
  - Streaming and buffered responses in both dialects
  - Model catalogue listing with live upstream discovery
  - Automatic Desktop/OIDC token refresh and credential hot-reload
  - Invisible retry of expired-token, overflow, and slow-start failures

For more information, visit: https://github.com/mercator-hq/ganymede`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands). The config
	// file is optional; environment variables alone configure a default
	// deployment.
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
