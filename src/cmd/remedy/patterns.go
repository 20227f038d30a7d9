package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/sanitize"
)

const patternColumnWidth = 60

var patternsKind string

var patternsCmd = &cobra.Command{
	Use:   "patterns [job]",
	Short: "List the active patterns in the durable store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, appConfig, logger.NewSilentLogger())
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.LoadPatterns(ctx)
		if err != nil {
			return fmt.Errorf("failed to load patterns: %w", err)
		}
		if len(args) == 1 {
			records = map[string][]contracts.PatternRecord{args[0]: records[args[0]]}
		}
		return writePatterns(os.Stdout, records, contracts.PatternKind(patternsKind))
	},
}

func init() {
	patternsCmd.Flags().StringVar(&patternsKind, "kind", "", "Only show failure, success or correlation patterns")
}

func writePatterns(w io.Writer, records map[string][]contracts.PatternRecord, kind contracts.PatternKind) error {
	jobs := make([]string, 0, len(records))
	for job := range records {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tKIND\tFREQ\tLAST SEEN\tSOLUTION\tPATTERN")
	rows := 0
	for _, job := range jobs {
		for _, rec := range records[job] {
			if kind != "" && rec.Kind != kind {
				continue
			}
			solution := "-"
			if rec.Solution != nil {
				solution = string(rec.Solution.Type)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
				job, rec.Kind, rec.Frequency, rec.LastSeen.Format("2006-01-02 15:04"), solution,
				sanitize.Truncate(rec.Pattern, patternColumnWidth))
			rows++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if rows == 0 {
		fmt.Fprintln(w, "No patterns learned yet.")
	}
	return nil
}
