// Package analyze turns CI builds into AnalysisResults. BuildAnalyzer fetches
// a build and its reference success; an Analyzer (heuristic or model-backed)
// produces the structured findings.
package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"remedy-agent/src/contracts"
	"remedy-agent/src/loginspect"
	"remedy-agent/src/patterns"
	"remedy-agent/src/sanitize"
)

// MinConfidence drops error lines scored below it.
const MinConfidence = 0.5

var (
	// Severity detection patterns
	fatalPattern   = regexp.MustCompile(`(?i)\b(FATAL|PANIC|CRITICAL)\b`)
	errorPattern   = regexp.MustCompile(`(?i)\b(ERROR|ERR|EXCEPTION|FAILURE|FAILED)\b`)
	warningPattern = regexp.MustCompile(`(?i)\b(WARN|WARNING)\b`)

	// High confidence indicators
	highConfidencePattern = regexp.MustCompile(`(?i)^.{0,50}\b(FATAL|ERROR|EXCEPTION|CRITICAL)\s*[\[:]`)

	// Error type classification, checked in order.
	typeRules = []struct {
		errorType string
		pattern   *regexp.Regexp
	}{
		{contracts.ErrorTypeOutOfMemory, regexp.MustCompile(`(?i)(out of memory|OutOfMemoryError|\boom\b|exit code 137)`)},
		{contracts.ErrorTypeTimeout, regexp.MustCompile(`(?i)(timeout|timed out)`)},
		{contracts.ErrorTypeCompilationError, regexp.MustCompile(`(?i)(compilation (error|failure)|cannot find symbol|syntax ?error|error TS\d+|\.(java|kt|groovy):\[\d+)`)},
		{contracts.ErrorTypeDependencyIssue, regexp.MustCompile(`(?i)(could not resolve|could not find artifact|failed to resolve|unable to find version|dependenc)`)},
		{contracts.ErrorTypeTestFailure, regexp.MustCompile(`(?i)(tests? failed|FAIL:|there were test failures|AssertionError|assertion failed|Failures: [1-9])`)},
	}
)

// HeuristicAnalyzer scores console error lines with regular expressions.
// It needs no network access and is used when no model is configured.
type HeuristicAnalyzer struct {
	now func() time.Time
}

// NewHeuristicAnalyzer creates a heuristic analyzer.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{now: time.Now}
}

// Analyze implements provider.Analyzer.
func (h *HeuristicAnalyzer) Analyze(ctx context.Context, build *contracts.BuildInfo, lastSuccess *contracts.BuildInfo) (*contracts.AnalysisResult, error) {
	if build == nil {
		return nil, fmt.Errorf("analyze: nil build")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := sanitize.Clean(build.Log())
	result := &contracts.AnalysisResult{
		BuildInfo:   *build,
		LastSuccess: lastSuccess,
		Timestamp:   h.now(),
	}

	seen := make(map[string]bool)
	fatal := false
	var confidenceSum float64
	for _, el := range loginspect.ErrorLines(log) {
		line := strings.TrimSpace(el.Line)
		if len(line) < 10 {
			continue
		}
		severity := detectSeverity(line)
		if severity != "ERROR" && severity != "FATAL" {
			continue
		}
		confidence := calculateConfidence(line, severity)
		if confidence < MinConfidence {
			continue
		}

		key := patterns.Key(line)
		if seen[key] {
			continue
		}
		seen[key] = true

		errorType := classify(line)
		if severity == "FATAL" || errorType == contracts.ErrorTypeCompilationError {
			fatal = true
		}
		confidenceSum += confidence
		result.ErrorPatterns = append(result.ErrorPatterns, contracts.ErrorPattern{
			Pattern:    key,
			Context:    el.Context,
			Type:       errorType,
			LineNumber: el.LineNumber,
		})
	}

	switch {
	case fatal:
		result.Severity = contracts.SeverityHigh
	case len(result.ErrorPatterns) > 0:
		result.Severity = contracts.SeverityMedium
	default:
		result.Severity = contracts.SeverityLow
	}

	switch {
	case len(result.ErrorPatterns) > 0:
		result.Confidence = confidenceSum / float64(len(result.ErrorPatterns))
	case build.Result == contracts.ResultSuccess:
		result.Confidence = 1.0
	default:
		result.Confidence = MinConfidence
	}

	result.Recommendations = recommend(result.ErrorPatterns)
	return result, nil
}

// detectSeverity determines the severity level of a log line.
func detectSeverity(line string) string {
	if fatalPattern.MatchString(line) {
		return "FATAL"
	}
	if errorPattern.MatchString(line) {
		return "ERROR"
	}
	if warningPattern.MatchString(line) {
		return "WARN"
	}
	return "INFO"
}

// calculateConfidence calculates a confidence score for an error line.
func calculateConfidence(line string, severity string) float64 {
	score := 0.5

	if highConfidencePattern.MatchString(line) {
		score += 0.3
	}

	if severity == "FATAL" {
		score += 0.2
	} else if severity == "ERROR" {
		score += 0.1
	}

	// Penalty for common false positives
	lower := strings.ToLower(line)
	if strings.Contains(lower, "test") && strings.Contains(lower, "passed") {
		score -= 0.3
	}
	if strings.Contains(lower, "deprecated") || strings.Contains(lower, "deprecation") {
		score -= 0.2
	}
	if strings.Contains(lower, "retry") {
		score -= 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

func classify(line string) string {
	for _, rule := range typeRules {
		if rule.pattern.MatchString(line) {
			return rule.errorType
		}
	}
	return contracts.ErrorTypeUnknown
}

func recommend(found []contracts.ErrorPattern) []string {
	seen := make(map[string]bool)
	var recs []string
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			recs = append(recs, r)
		}
	}
	for _, ep := range found {
		switch ep.Type {
		case contracts.ErrorTypeTestFailure:
			add("Inspect failing tests and retry to rule out flakiness")
		case contracts.ErrorTypeDependencyIssue:
			add("Clean the dependency cache and verify repository access")
		case contracts.ErrorTypeCompilationError:
			add("Fix the compilation errors introduced by the latest changes")
		case contracts.ErrorTypeTimeout:
			add("Increase the build timeout or investigate slow steps")
		case contracts.ErrorTypeOutOfMemory:
			add("Raise the memory allocation for the build agent")
		}
	}
	if len(found) > 0 && len(recs) == 0 {
		add("Review the console log around the reported errors")
	}
	return recs
}
