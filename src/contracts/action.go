package contracts

import "time"

// Action types recorded in the ledger.
const (
	ActionPatternMatch    = "pattern_match"
	ActionTestFailure     = "test_failure"
	ActionSlowBuild       = "slow_build"
	ActionDependencyIssue = "dependency_issue"
	ActionCompilation     = "compilation_issue"
)

// ActionStatus is the outcome of a remediation action.
type ActionStatus string

const (
	StatusSucceeded ActionStatus = "succeeded"
	StatusFailed    ActionStatus = "failed"
	StatusSkipped   ActionStatus = "skipped"
)

// ActionRecord is one remediation action taken for a build.
type ActionRecord struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Result    string       `json:"result"`
	Status    ActionStatus `json:"status"`
	// PatternID references the matched PatternRecord, if any.
	PatternID string            `json:"pattern_id,omitempty"`
	Pattern   string            `json:"pattern,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}
