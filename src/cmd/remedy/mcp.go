package main

import (
	"github.com/spf13/cobra"

	"remedy-agent/src/logger"
	"remedy-agent/src/mcp"
)

var mcpMonitor bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the inspection tools over MCP stdio",
	Long: `Runs an MCP server on stdin/stdout exposing list_patterns,
get_build_actions, learning_status, set_learning and analyze_build.

Logging is disabled because stdout carries the protocol. With --monitor the
job monitors run in the background as in 'remedy serve'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.NewSilentLogger()

		a, err := newApp(ctx, appConfig, log, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		a.manager.LoadPatterns(ctx)
		if mcpMonitor {
			go a.manager.Run(ctx)
		}
		return mcp.NewServer(a.manager, version, log).Run()
	},
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpMonitor, "monitor", false, "Also monitor jobs while serving")
}
