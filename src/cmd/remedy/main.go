// Package main provides the remedy CLI: the build monitoring and
// remediation agent, one-shot analysis and the MCP inspection server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"remedy-agent/src/config"
	"remedy-agent/src/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	appConfig *config.Config
	appLogger logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "remedy",
	Short: "Remedy - a self-learning remediation agent for Jenkins builds",
	Long: `Remedy watches every job on a Jenkins server, analyzes each new build and
acts on failures: it retries, adjusts parameters or notifies the team based on
patterns learned from earlier builds.

Configuration is read from .env, the YAML file named by REMEDY_CONFIG and
environment variables (JENKINS_URL is required).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		appConfig = cfg
		appLogger = logger.NewConsoleLoggerWithLevel(os.Stderr, cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(noticesCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Overrides the root hook so no configuration is required.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
