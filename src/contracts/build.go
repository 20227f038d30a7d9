// Package contracts defines the data model shared by the monitoring, analysis,
// learning and remediation components.
package contracts

import (
	"fmt"
	"strings"
	"time"
)

// BuildResult is the outcome of a CI build.
type BuildResult string

const (
	ResultSuccess    BuildResult = "SUCCESS"
	ResultFailure    BuildResult = "FAILURE"
	ResultUnstable   BuildResult = "UNSTABLE"
	ResultAborted    BuildResult = "ABORTED"
	ResultInProgress BuildResult = "IN_PROGRESS"
	ResultUnknown    BuildResult = "UNKNOWN"
)

// ParseBuildResult maps a raw CI result. An absent result means the build is
// still running when building is set, otherwise the outcome is unknown.
func ParseBuildResult(raw string, building bool) BuildResult {
	switch BuildResult(raw) {
	case ResultSuccess, ResultFailure, ResultUnstable, ResultAborted:
		return BuildResult(raw)
	case "":
		if building {
			return ResultInProgress
		}
		return ResultUnknown
	default:
		return ResultUnknown
	}
}

// BuildKey identifies one build of one job.
type BuildKey struct {
	Job    string `json:"job"`
	Number int    `json:"number"`
}

// String renders the key as "job#number".
func (k BuildKey) String() string {
	return fmt.Sprintf("%s#%d", k.Job, k.Number)
}

// BuildInfo is the CI server's view of a single build.
type BuildInfo struct {
	JobName     string            `json:"job_name"`
	BuildNumber int               `json:"build_number"`
	Result      BuildResult       `json:"result"`
	Timestamp   time.Time         `json:"timestamp"`
	Duration    time.Duration     `json:"duration"`
	Parameters  map[string]string `json:"parameters"`
	ConsoleLog  *string           `json:"console_log,omitempty"`
	URL         string            `json:"url,omitempty"`
	// TestFailures holds failed test cases read from JUnit artifacts.
	TestFailures []TestFailure `json:"test_failures,omitempty"`
}

// Key returns the build's identity.
func (b *BuildInfo) Key() BuildKey {
	return BuildKey{Job: b.JobName, Number: b.BuildNumber}
}

// Log returns the console log or "" when none was captured.
func (b *BuildInfo) Log() string {
	if b.ConsoleLog == nil {
		return ""
	}
	return *b.ConsoleLog
}

// TestFailure is one failed test case.
type TestFailure struct {
	Name    string `json:"name"`
	Package string `json:"package"`
	Message string `json:"message,omitempty"`
}

// Severity grades an analysis. HIGH > MEDIUM > LOW.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities; unrecognized values rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Error types assigned to ErrorPattern.Type.
const (
	ErrorTypeTestFailure      = "test_failure"
	ErrorTypeDependencyIssue  = "dependency_issue"
	ErrorTypeCompilationError = "compilation_error"
	ErrorTypeTimeout          = "timeout"
	ErrorTypeOutOfMemory      = "out_of_memory"
	ErrorTypeUnknown          = "unknown"
)

// ErrorPattern is one failure signature found in a build.
type ErrorPattern struct {
	// Pattern is the normalized key used for exact-match lookups.
	Pattern    string `json:"pattern"`
	Context    string `json:"context"`
	Type       string `json:"type,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
}

// Difference describes how a failed build deviates from the last success.
type Difference struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// AnalysisResult is the derived view of a build.
type AnalysisResult struct {
	BuildInfo       BuildInfo      `json:"build_info"`
	LastSuccess     *BuildInfo     `json:"last_success,omitempty"`
	ErrorPatterns   []ErrorPattern `json:"error_patterns"`
	Differences     []Difference   `json:"differences"`
	Recommendations []string       `json:"recommendations"`
	Confidence      float64        `json:"confidence"`
	Severity        Severity       `json:"severity"`
	// Timestamp is when the analysis was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the analyzed build's identity.
func (a *AnalysisResult) Key() BuildKey {
	return a.BuildInfo.Key()
}

// TestPackage returns the package portion of a qualified test or class name:
// everything before the last '.' that follows the last '/'. A slash-qualified
// name without such a dot is its own package; bare names map to "unknown".
func TestPackage(qualified string) string {
	start := strings.LastIndex(qualified, "/") + 1
	dot := strings.LastIndex(qualified[start:], ".")
	switch {
	case dot > 0:
		return qualified[:start+dot]
	case dot < 0 && start > 0:
		return qualified
	default:
		return "unknown"
	}
}
