package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"remedy-agent/src/agent"
	"remedy-agent/src/contracts"
	"remedy-agent/src/provider"
)

var (
	analyzeJSON   bool
	analyzeDryRun bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <build-url> | analyze <job> <number>",
	Short: "Analyze and remediate a single build",
	Long: `Analyzes one build the same way the monitors do: failures are matched
against learned patterns, remediated and annotated, and the build is learned
from.

Examples:
  remedy analyze https://jenkins.example.com/job/team/job/app/42/
  remedy analyze team/app 42 --dry-run`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseBuildArgs(args)
		if err != nil {
			return provider.WrapError(err)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, appConfig, appLogger, appOptions{readOnly: analyzeDryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		a.manager.LoadPatterns(ctx)
		if err := a.manager.AnalyzeAndAct(ctx, key.Job, key.Number); err != nil {
			return provider.WrapError(err)
		}

		result, _ := a.manager.Analysis(key)
		return writeReport(os.Stdout, result, a.manager.Actions(key), analyzeJSON)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the analysis and actions as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Decide remediations without triggering builds or writing descriptions")
}

// parseBuildArgs accepts a build URL or a job name and build number.
func parseBuildArgs(args []string) (contracts.BuildKey, error) {
	if len(args) == 1 {
		return provider.ParseBuildURL(args[0])
	}
	number, err := strconv.Atoi(args[1])
	if err != nil || number <= 0 {
		return contracts.BuildKey{}, fmt.Errorf("invalid build number %q", args[1])
	}
	return contracts.BuildKey{Job: args[0], Number: number}, nil
}

type report struct {
	Analysis *contracts.AnalysisResult `json:"analysis"`
	Actions  []contracts.ActionRecord  `json:"actions"`
}

func writeReport(w io.Writer, result *contracts.AnalysisResult, actions []contracts.ActionRecord, asJSON bool) error {
	if result == nil {
		return fmt.Errorf("no analysis recorded")
	}

	if asJSON {
		// The console log is large and already on the CI server.
		view := *result
		view.BuildInfo.ConsoleLog = nil
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report{Analysis: &view, Actions: actions})
	}

	fmt.Fprintf(w, "%s: %s\n\n", result.Key(), result.BuildInfo.Result)
	fmt.Fprintln(w, agent.AnnotationText(result, actions))
	if len(result.ErrorPatterns) > 0 {
		fmt.Fprintf(w, "\nError patterns (%d):\n", len(result.ErrorPatterns))
		for _, ep := range result.ErrorPatterns {
			fmt.Fprintf(w, "  [%s] %s\n", orUnknown(ep.Type), ep.Pattern)
		}
	}
	for _, d := range result.Differences {
		fmt.Fprintf(w, "\nChanged %s since last success:\n  %s\n", d.Type, d.Description)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return contracts.ErrorTypeUnknown
	}
	return s
}
