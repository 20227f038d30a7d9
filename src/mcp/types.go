// Package mcp exposes the remediation engine to MCP clients over stdio.
package mcp

import (
	"time"

	"remedy-agent/src/contracts"
)

// JobPatterns groups the learned patterns of one job.
type JobPatterns struct {
	Job      string           `json:"job"`
	Patterns []PatternSummary `json:"patterns"`
}

// PatternSummary is a compact view of a PatternRecord.
type PatternSummary struct {
	ID        string                 `json:"id"`
	Kind      contracts.PatternKind  `json:"kind"`
	Pattern   string                 `json:"pattern"`
	Frequency int                    `json:"frequency"`
	LastSeen  time.Time              `json:"last_seen"`
	Solution  contracts.SolutionType `json:"solution,omitempty"`

	// Failure patterns
	Severity     contracts.Severity `json:"severity,omitempty"`
	Confidence   float64            `json:"confidence,omitempty"`
	ErrorType    string             `json:"error_type,omitempty"`
	Observations int                `json:"observations,omitempty"`

	// Success indicators
	SuccessRate float64 `json:"success_rate,omitempty"`

	// Correlations
	Changed []string `json:"changed,omitempty"`
}

// BuildReport is the response of get_build_actions and analyze_build.
type BuildReport struct {
	Build    string                   `json:"build"`
	Analysis *AnalysisSummary         `json:"analysis,omitempty"`
	Actions  []contracts.ActionRecord `json:"actions"`
}

// AnalysisSummary is a cached analysis without the raw console log.
type AnalysisSummary struct {
	Result          contracts.BuildResult  `json:"result"`
	Severity        contracts.Severity     `json:"severity"`
	Confidence      float64                `json:"confidence"`
	URL             string                 `json:"url,omitempty"`
	Duration        string                 `json:"duration"`
	LastSuccess     int                    `json:"last_success,omitempty"`
	Recommendations []string               `json:"recommendations"`
	Differences     []contracts.Difference `json:"differences,omitempty"`
	ErrorPatterns   []ErrorLine            `json:"error_patterns"`
	// Omitted counts error patterns dropped by the limit.
	Omitted int `json:"omitted,omitempty"`
}

// ErrorLine is one error pattern prepared for display.
type ErrorLine struct {
	Type    string `json:"type,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}
