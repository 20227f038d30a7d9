package agent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"remedy-agent/src/contracts"
	"remedy-agent/src/loginspect"
	"remedy-agent/src/logger"
	"remedy-agent/src/sanitize"
)

// EnvironmentalThreshold is the number of failing tests in one package above
// which the package is treated as an environment problem.
const EnvironmentalThreshold = 3

// AnnotationWidth bounds each line of the build annotation.
const AnnotationWidth = 240

// CIActions is the part of the CI server the remediation engine acts on.
type CIActions interface {
	TriggerBuild(ctx context.Context, job string, params map[string]string) error
	PostBuildAnnotation(ctx context.Context, job string, number int, text string) error
}

// Notifier delivers team notices.
type Notifier interface {
	Notify(ctx context.Context, notice contracts.Notice) error
}

// RemediationEngine acts on failed builds: it applies solutions of matching
// patterns, classifies log-derived issues and annotates the build. Every
// action is recorded in the ledger.
type RemediationEngine struct {
	ci       CIActions
	notifier Notifier
	patterns *PatternStore
	ledger   *ActionLedger
	logger   logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	retries map[string]int
}

func NewRemediationEngine(ci CIActions, notifier Notifier, patterns *PatternStore, ledger *ActionLedger, log logger.Logger) *RemediationEngine {
	return &RemediationEngine{
		ci:       ci,
		notifier: notifier,
		patterns: patterns,
		ledger:   ledger,
		logger:   log,
		now:      time.Now,
		retries:  make(map[string]int),
	}
}

// HandleFailure runs the three remediation passes for a failed build and
// returns the actions recorded. A failing pass is recorded as a failed
// action and never stops the passes after it.
func (e *RemediationEngine) HandleFailure(ctx context.Context, analysis *contracts.AnalysisResult) []contracts.ActionRecord {
	key := analysis.Key()
	e.logger.Info("[Remediation] Handling failure of %s (severity %s)", key, analysis.Severity)

	var recorded []contracts.ActionRecord
	record := func(rec contracts.ActionRecord) {
		recorded = append(recorded, e.ledger.Append(key, rec))
	}

	e.runPass(contracts.ActionPatternMatch, record, func() error {
		for _, rec := range e.matchKnownPatterns(ctx, analysis) {
			record(rec)
		}
		return nil
	})

	e.runPass("log_inspection", record, func() error {
		for _, rec := range e.classifyIssues(analysis) {
			record(rec)
		}
		return nil
	})

	if err := e.annotate(ctx, analysis, recorded); err != nil {
		e.logger.Warn("[Remediation] Failed to annotate %s: %v", key, err)
	}
	return recorded
}

// ResetRetries forgets retry counts for job, typically after it succeeds.
func (e *RemediationEngine) ResetRetries(job string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := job + "\x00"
	for k := range e.retries {
		if strings.HasPrefix(k, prefix) {
			delete(e.retries, k)
		}
	}
}

func (e *RemediationEngine) runPass(name string, record func(contracts.ActionRecord), pass func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return pass()
	}()
	if err != nil {
		e.logger.Error("[Remediation] Pass %s failed: %v", name, err)
		record(contracts.ActionRecord{
			Type:   name,
			Result: err.Error(),
			Status: contracts.StatusFailed,
		})
	}
}

func (e *RemediationEngine) matchKnownPatterns(ctx context.Context, analysis *contracts.AnalysisResult) []contracts.ActionRecord {
	matches := e.patterns.Match(analysis.BuildInfo.JobName, analysis)
	records := make([]contracts.ActionRecord, 0, len(matches))
	for _, match := range matches {
		result, status := e.applySolution(ctx, match, analysis)
		details := map[string]string{"kind": string(match.Kind)}
		if match.Solution != nil {
			details["solution"] = string(match.Solution.Type)
		}
		records = append(records, contracts.ActionRecord{
			Type:      contracts.ActionPatternMatch,
			Result:    result,
			Status:    status,
			PatternID: match.ID,
			Pattern:   match.Pattern,
			Details:   details,
		})
	}
	return records
}

// applySolution executes the pattern's solution and describes the outcome.
func (e *RemediationEngine) applySolution(ctx context.Context, match *contracts.PatternRecord, analysis *contracts.AnalysisResult) (string, contracts.ActionStatus) {
	sol := match.Solution
	if sol == nil {
		return "No known solution", contracts.StatusSkipped
	}

	build := analysis.BuildInfo
	switch sol.Type {
	case contracts.SolutionRetry:
		if !e.allowRetry(build.JobName, match.Pattern, sol.MaxRetries) {
			return fmt.Sprintf("Retry limit of %d reached", sol.MaxRetries), contracts.StatusSkipped
		}
		if err := e.ci.TriggerBuild(ctx, build.JobName, contracts.CopyParams(build.Parameters)); err != nil {
			return fmt.Sprintf("Retry failed: %v", err), contracts.StatusFailed
		}
		return "Build retried", contracts.StatusSucceeded

	case contracts.SolutionParameterAdjust:
		params := contracts.CopyParams(build.Parameters)
		if params == nil {
			params = make(map[string]string, len(sol.Parameters))
		}
		for k, v := range sol.Parameters {
			params[k] = v
		}
		if err := e.ci.TriggerBuild(ctx, build.JobName, params); err != nil {
			return fmt.Sprintf("Parameter adjustment failed: %v", err), contracts.StatusFailed
		}
		return "Build retried with adjusted parameters: " + formatParams(sol.Parameters), contracts.StatusSucceeded

	case contracts.SolutionNotification:
		notice := contracts.Notice{
			Build:     build.Key(),
			Message:   sol.Message,
			Pattern:   match.Pattern,
			Severity:  analysis.Severity,
			Timestamp: e.now(),
		}
		if err := e.notifier.Notify(ctx, notice); err != nil {
			return fmt.Sprintf("Notification failed: %v", err), contracts.StatusFailed
		}
		return "Team notified", contracts.StatusSucceeded
	}
	return fmt.Sprintf("Unknown solution type: %s", sol.Type), contracts.StatusSkipped
}

// allowRetry counts retries per job and pattern; maxRetries <= 0 means no limit.
func (e *RemediationEngine) allowRetry(job, pattern string, maxRetries int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := job + "\x00" + pattern
	if maxRetries > 0 && e.retries[k] >= maxRetries {
		return false
	}
	e.retries[k]++
	return true
}

// classifyIssues turns log-derived issues into one action per non-empty
// category. JUnit failures attached to the build are merged with the
// console-scraped ones.
func (e *RemediationEngine) classifyIssues(analysis *contracts.AnalysisResult) []contracts.ActionRecord {
	log := analysis.BuildInfo.Log()
	var records []contracts.ActionRecord

	tests := mergeTestFailures(loginspect.TestFailures(log).FailedTests, analysis.BuildInfo.TestFailures)
	if len(tests) > 0 {
		records = append(records, handleTestFailures(tests))
	}
	if log == "" {
		return records
	}

	if timing := loginspect.BuildTiming(log); len(timing.SlowPhases) > 0 {
		parts := make([]string, len(timing.SlowPhases))
		for i, p := range timing.SlowPhases {
			parts[i] = fmt.Sprintf("%s (%.0fs)", p.Name, p.Seconds)
		}
		records = append(records, contracts.ActionRecord{
			Type:   contracts.ActionSlowBuild,
			Result: "Slow phases: " + strings.Join(parts, ", "),
			Status: contracts.StatusSucceeded,
			Details: map[string]string{
				"total_seconds": strconv.FormatFloat(timing.TotalSeconds, 'f', -1, 64),
				"slow_phases":   strconv.Itoa(len(timing.SlowPhases)),
			},
		})
	}

	if deps := loginspect.DependencyIssues(log); len(deps) > 0 {
		parts := make([]string, len(deps))
		for i, d := range deps {
			parts[i] = "Missing dependency: " + d.Artifact
		}
		records = append(records, contracts.ActionRecord{
			Type:    contracts.ActionDependencyIssue,
			Result:  strings.Join(parts, "; "),
			Status:  contracts.StatusSucceeded,
			Details: map[string]string{"issues": strconv.Itoa(len(deps))},
		})
	}

	if issues := loginspect.CompilationIssues(log); len(issues) > 0 {
		parts := make([]string, len(issues))
		for i, c := range issues {
			loc := c.File
			if c.Line > 0 {
				loc = fmt.Sprintf("%s:%d", c.File, c.Line)
			}
			parts[i] = fmt.Sprintf("Compilation error in %s: %s", loc, c.Message)
		}
		records = append(records, contracts.ActionRecord{
			Type:    contracts.ActionCompilation,
			Result:  strings.Join(parts, "; "),
			Status:  contracts.StatusSucceeded,
			Details: map[string]string{"issues": strconv.Itoa(len(issues))},
		})
	}

	return records
}

// handleTestFailures groups failed tests by package. A package with more
// than EnvironmentalThreshold failures is reported as environmental instead
// of test by test.
func handleTestFailures(tests []contracts.TestFailure) contracts.ActionRecord {
	groups := make(map[string][]contracts.TestFailure)
	for _, t := range tests {
		pkg := t.Package
		if pkg == "" {
			pkg = "unknown"
		}
		groups[pkg] = append(groups[pkg], t)
	}
	pkgs := make([]string, 0, len(groups))
	for pkg := range groups {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	var actions, environmental, summary []string
	for _, pkg := range pkgs {
		group := groups[pkg]
		summary = append(summary, fmt.Sprintf("%s=%d", pkg, len(group)))
		if len(group) > EnvironmentalThreshold {
			environmental = append(environmental, pkg)
			actions = append(actions, fmt.Sprintf("Multiple failures in %s - checking environment", pkg))
			continue
		}
		for _, t := range group {
			actions = append(actions, "Analyzing failure in "+t.Name)
		}
	}

	details := map[string]string{
		"failed_tests": strconv.Itoa(len(tests)),
		"groups":       strings.Join(summary, ", "),
	}
	if len(environmental) > 0 {
		details["environmental"] = strings.Join(environmental, ", ")
	}
	return contracts.ActionRecord{
		Type:    contracts.ActionTestFailure,
		Result:  strings.Join(actions, "; "),
		Status:  contracts.StatusSucceeded,
		Details: details,
	}
}

func mergeTestFailures(scraped, reported []contracts.TestFailure) []contracts.TestFailure {
	seen := make(map[string]bool, len(scraped)+len(reported))
	var out []contracts.TestFailure
	for _, list := range [][]contracts.TestFailure{scraped, reported} {
		for _, t := range list {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t)
		}
	}
	return out
}

// annotate posts the analysis report to the build. Failure is returned for
// logging only.
func (e *RemediationEngine) annotate(ctx context.Context, analysis *contracts.AnalysisResult, actions []contracts.ActionRecord) error {
	text := AnnotationText(analysis, actions)
	return e.ci.PostBuildAnnotation(ctx, analysis.BuildInfo.JobName, analysis.BuildInfo.BuildNumber, text)
}

// AnnotationText renders the build analysis report posted to the CI server.
func AnnotationText(analysis *contracts.AnalysisResult, actions []contracts.ActionRecord) string {
	taken := make([]string, 0, len(actions))
	for _, a := range actions {
		if a.Result != "" {
			taken = append(taken, a.Result)
		}
	}
	text := fmt.Sprintf("Build Analysis Report:\n- Severity: %s\n- Confidence: %.2f\n- Actions Taken: %s\n- Recommendations: %s",
		analysis.Severity,
		analysis.Confidence,
		orNone(taken),
		orNone(analysis.Recommendations),
	)
	return sanitize.FitLines(text, AnnotationWidth)
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func formatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return strings.Join(parts, ", ")
}
