package analyze

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"remedy-agent/src/contracts"
	"remedy-agent/src/junit"
	"remedy-agent/src/logger"
	"remedy-agent/src/provider"
)

var envVarKey = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// BuildSource is the part of the CI server BuildAnalyzer reads from.
type BuildSource interface {
	GetBuildInfo(ctx context.Context, job string, number int) (*contracts.BuildInfo, error)
	LastSuccessfulBuild(ctx context.Context, job string, before int) (*contracts.BuildInfo, error)
}

// TestReportSource is implemented by CI clients that can download JUnit reports.
type TestReportSource interface {
	TestReports(ctx context.Context, job string, number int) ([][]byte, error)
}

// BuildAnalyzer coordinates one analysis: fetch the build, fetch the last
// success for non-successful builds, call the Analyzer and add comparison
// differences.
type BuildAnalyzer struct {
	source   BuildSource
	analyzer provider.Analyzer
	logger   logger.Logger
}

// NewBuildAnalyzer creates a BuildAnalyzer.
func NewBuildAnalyzer(source BuildSource, analyzer provider.Analyzer, log logger.Logger) *BuildAnalyzer {
	return &BuildAnalyzer{source: source, analyzer: analyzer, logger: log}
}

// AnalyzeBuild analyzes job#number. A build that is still running returns
// provider.ErrBuildInProgress so callers can retry once it completes.
func (b *BuildAnalyzer) AnalyzeBuild(ctx context.Context, job string, number int) (*contracts.AnalysisResult, error) {
	key := contracts.BuildKey{Job: job, Number: number}

	build, err := b.source.GetBuildInfo(ctx, job, number)
	if err != nil {
		return nil, fmt.Errorf("fetch build %s: %w", key, err)
	}
	if build == nil {
		return nil, provider.Logic("fetch build "+key.String(), errors.New("empty build payload"))
	}
	if build.Result == contracts.ResultInProgress {
		return nil, fmt.Errorf("%s: %w", key, provider.ErrBuildInProgress)
	}

	if reports, ok := b.source.(TestReportSource); ok {
		build.TestFailures = append(build.TestFailures, b.loadTestReports(ctx, reports, key)...)
	}

	var lastSuccess *contracts.BuildInfo
	if build.Result != contracts.ResultSuccess {
		lastSuccess, err = b.source.LastSuccessfulBuild(ctx, job, number)
		if err != nil {
			b.logger.Warn("[BuildAnalyzer] No reference build for %s: %v", key, err)
			lastSuccess = nil
		}
	}

	result, err := b.analyzer.Analyze(ctx, build, lastSuccess)
	if err != nil {
		return nil, provider.Analysis("analyze "+key.String(), err)
	}

	if lastSuccess != nil {
		result.LastSuccess = lastSuccess
		result.Differences = append(result.Differences, CompareBuilds(build, lastSuccess)...)
	}
	return result, nil
}

func (b *BuildAnalyzer) loadTestReports(ctx context.Context, src TestReportSource, key contracts.BuildKey) []contracts.TestFailure {
	reports, err := src.TestReports(ctx, key.Job, key.Number)
	if err != nil {
		b.logger.Debug("[BuildAnalyzer] No test reports for %s: %v", key, err)
		return nil
	}
	var failures []contracts.TestFailure
	for _, data := range reports {
		parsed, err := junit.Failures(data)
		if err != nil {
			b.logger.Debug("[BuildAnalyzer] Skipping unparsable report for %s: %v", key, err)
			continue
		}
		failures = append(failures, parsed...)
	}
	return failures
}

// CompareBuilds describes how failed differs from the reference success in
// build parameters and in environment variables echoed to the console.
func CompareBuilds(failed, success *contracts.BuildInfo) []contracts.Difference {
	return []contracts.Difference{
		{
			Type:        "parameters",
			Description: contracts.DiffParams(failed.Parameters, success.Parameters).String(),
		},
		{
			Type:        "environment",
			Description: contracts.DiffParams(ExtractEnvVars(failed.Log()), ExtractEnvVars(success.Log())).String(),
		},
	}
}

// ExtractEnvVars collects KEY=value lines whose key is upper snake case.
func ExtractEnvVars(log string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(log, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		k, v, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if envVarKey.MatchString(k) {
			vars[k] = strings.TrimSpace(v)
		}
	}
	return vars
}
