package agent

import (
	"regexp"
	"strings"
	"time"

	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/patterns"
)

// PromotionThreshold is the number of analyses a pattern must appear in
// before batch extraction promotes it.
const PromotionThreshold = 3

// FastBuildThreshold separates the "timing_fast" and "timing_normal" buckets.
const FastBuildThreshold = 5 * time.Minute

// stableParams are the parameters whose values fingerprint a healthy build.
var stableParams = []string{"branch", "environment", "version"}

// successPhrases are console phrases that indicate a healthy build. Each is
// matched case-insensitively.
var successPhrases = []struct {
	phrase string
	re     *regexp.Regexp
}{
	{"BUILD SUCCESSFUL", regexp.MustCompile(`(?i)BUILD SUCCESSFUL`)},
	{"Tests run: .* Failures: 0", regexp.MustCompile(`(?i)Tests run: .* Failures: 0\b`)},
	{"All tests passed", regexp.MustCompile(`(?i)All tests passed`)},
	{"Compilation successful", regexp.MustCompile(`(?i)Compilation successful`)},
	{"No errors found", regexp.MustCompile(`(?i)No errors found`)},
}

// Learner derives failure, success and correlation patterns from analyses.
type Learner struct {
	patterns *PatternStore
	cache    *AnalysisCache
	logger   logger.Logger
	now      func() time.Time
}

func NewLearner(patterns *PatternStore, cache *AnalysisCache, log logger.Logger) *Learner {
	return &Learner{patterns: patterns, cache: cache, logger: log, now: time.Now}
}

// Learn routes an analysis to RecordSuccess, or to RecordFailure followed by
// CorrelateWithLastSuccess.
func (l *Learner) Learn(result *contracts.AnalysisResult) {
	key := result.Key()
	if result.BuildInfo.Result == contracts.ResultSuccess {
		l.logger.Info("[Learner] Learning from successful build: %s", key)
		l.RecordSuccess(result)
		return
	}
	l.logger.Info("[Learner] Learning from failed build: %s", key)
	l.RecordFailure(result)
	l.CorrelateWithLastSuccess(result)
}

// RecordFailure upserts one failure record per error pattern in result.
func (l *Learner) RecordFailure(result *contracts.AnalysisResult) []*contracts.PatternRecord {
	job := result.BuildInfo.JobName
	now := l.now()

	var out []*contracts.PatternRecord
	for _, ep := range result.ErrorPatterns {
		if ep.Pattern == "" {
			continue
		}
		ctx := failureContext(result)
		rec, created := l.patterns.Upsert(job, contracts.KindFailure, ep.Pattern,
			func() *contracts.PatternRecord {
				return &contracts.PatternRecord{
					Frequency: 1,
					LastSeen:  now,
					Solution:  DeriveInitialSolution(ep),
					Failure: &contracts.FailureDetail{
						Severity:   result.Severity,
						Confidence: result.Confidence,
						ErrorType:  errorTypeOrUnknown(ep.Type),
						Contexts:   []contracts.FailureContext{ctx},
					},
				}
			},
			func(rec *contracts.PatternRecord) {
				rec.Frequency++
				rec.LastSeen = now
				if rec.Failure == nil {
					rec.Failure = &contracts.FailureDetail{ErrorType: errorTypeOrUnknown(ep.Type)}
				}
				rec.Failure.Severity = contracts.MaxSeverity(rec.Failure.Severity, result.Severity)
				rec.Failure.Contexts = appendBounded(rec.Failure.Contexts, ctx)
			})
		if created {
			l.logger.Debug("[Learner] New failure pattern for %s: %s", job, ep.Pattern)
		}
		out = append(out, rec)
	}
	return out
}

// RecordSuccess upserts one success record per indicator found in result.
func (l *Learner) RecordSuccess(result *contracts.AnalysisResult) []*contracts.PatternRecord {
	job := result.BuildInfo.JobName
	duration := result.BuildInfo.Duration
	now := l.now()

	var out []*contracts.PatternRecord
	for _, ind := range SuccessIndicators(&result.BuildInfo) {
		rec, _ := l.patterns.Upsert(job, contracts.KindSuccess, ind.Pattern,
			func() *contracts.PatternRecord {
				return &contracts.PatternRecord{
					Frequency: 1,
					LastSeen:  now,
					Success: &contracts.SuccessDetail{
						Indicator:   ind.Pattern,
						SuccessRate: 0.9,
						Parameters:  contracts.CopyParams(result.BuildInfo.Parameters),
						Environment: ind.Environment,
						MinDuration: duration,
						MaxDuration: duration,
					},
				}
			},
			func(rec *contracts.PatternRecord) {
				rec.Frequency++
				rec.LastSeen = now
				if rec.Success == nil {
					rec.Success = &contracts.SuccessDetail{Indicator: ind.Pattern, SuccessRate: 0.8, MinDuration: duration}
				}
				rec.Success.SuccessRate = min(1.0, rec.Success.SuccessRate+0.1)
				if duration > 0 && (rec.Success.MinDuration == 0 || duration < rec.Success.MinDuration) {
					rec.Success.MinDuration = duration
				}
				if duration > rec.Success.MaxDuration {
					rec.Success.MaxDuration = duration
				}
			})
		out = append(out, rec)
	}
	l.logger.Debug("[Learner] Updated success patterns for %s: %d indicators", job, len(out))
	return out
}

// CorrelateWithLastSuccess compares result with the most recent cached
// successful build of the same job and records what changed. It returns nil
// when there is no earlier success or the parameters are identical.
func (l *Learner) CorrelateWithLastSuccess(result *contracts.AnalysisResult) *contracts.PatternRecord {
	job := result.BuildInfo.JobName
	reference, ok := l.cache.LastSuccessBefore(job, result.BuildInfo.BuildNumber)
	if !ok {
		return nil
	}

	diff := contracts.DiffParams(result.BuildInfo.Parameters, reference.BuildInfo.Parameters)
	if diff.Empty() {
		return nil
	}

	rec := &contracts.PatternRecord{
		Kind:      contracts.KindCorrelation,
		Pattern:   "param_change_" + patterns.Fingerprint(diff.Flatten()),
		Frequency: 1,
		LastSeen:  l.now(),
		Solution:  revertSolution(diff),
		Correlation: &contracts.CorrelationDetail{
			Changed:        diff.Changed,
			Added:          diff.Added,
			Removed:        diff.Removed,
			FailedBuild:    result.Key(),
			ReferenceBuild: reference.Key(),
		},
	}
	l.logger.Info("[Learner] Correlated %s with last success %s: %s", result.Key(), reference.Key(), diff)
	return l.patterns.Append(job, rec)
}

// ExtractPatterns promotes error patterns present in at least
// PromotionThreshold of the given analyses of job. Each pattern counts once
// per analysis. A promoted pattern merges into an existing failure record,
// whose frequency becomes the larger of the two counts.
func (l *Learner) ExtractPatterns(job string, analyses []*contracts.AnalysisResult) []*contracts.PatternRecord {
	counts := make(map[string]int)
	first := make(map[string]contracts.ErrorPattern)
	var order []string
	for _, a := range analyses {
		seen := make(map[string]bool)
		for _, ep := range a.ErrorPatterns {
			if ep.Pattern == "" || seen[ep.Pattern] {
				continue
			}
			seen[ep.Pattern] = true
			if _, ok := first[ep.Pattern]; !ok {
				first[ep.Pattern] = ep
				order = append(order, ep.Pattern)
			}
			counts[ep.Pattern]++
		}
	}

	now := l.now()
	var promoted []*contracts.PatternRecord
	for _, pattern := range order {
		count := counts[pattern]
		if count < PromotionThreshold {
			continue
		}
		ep := first[pattern]
		rec, _ := l.patterns.Upsert(job, contracts.KindFailure, pattern,
			func() *contracts.PatternRecord {
				return &contracts.PatternRecord{
					Frequency: count,
					LastSeen:  now,
					Solution:  DeriveInitialSolution(ep),
					Failure: &contracts.FailureDetail{
						Severity:  contracts.SeverityMedium,
						ErrorType: errorTypeOrUnknown(ep.Type),
					},
				}
			},
			func(rec *contracts.PatternRecord) {
				rec.Frequency = max(rec.Frequency, count)
				rec.LastSeen = now
			})
		promoted = append(promoted, rec)
	}
	if len(promoted) > 0 {
		l.logger.Info("[Learner] Promoted %d recurring patterns for %s", len(promoted), job)
	}
	return promoted
}

// Refresh runs batch extraction over the cached analyses of every job that
// has patterns, then prunes patterns not seen within ttl.
func (l *Learner) Refresh(ttl time.Duration) (promoted, pruned int) {
	for _, job := range l.patterns.Jobs() {
		if analyses := l.cache.ForJob(job); len(analyses) > 0 {
			promoted += len(l.ExtractPatterns(job, analyses))
		}
	}
	pruned = l.patterns.Prune(l.now(), ttl)
	return promoted, pruned
}

// SuccessIndicator is one signal extracted from a successful build.
type SuccessIndicator struct {
	Pattern     string
	Environment map[string]string
}

// SuccessIndicators extracts the stable-parameter fingerprint, the duration
// bucket and any success phrases found in the console log.
func SuccessIndicators(build *contracts.BuildInfo) []SuccessIndicator {
	var out []SuccessIndicator

	stable := make(map[string]string)
	for _, p := range stableParams {
		if v, ok := build.Parameters[p]; ok {
			stable[p] = v
		}
	}
	if len(stable) > 0 {
		out = append(out, SuccessIndicator{
			Pattern:     "stable_params_" + patterns.Fingerprint(stable),
			Environment: stable,
		})
	}

	if build.Duration > 0 {
		bucket := "normal"
		if build.Duration < FastBuildThreshold {
			bucket = "fast"
		}
		out = append(out, SuccessIndicator{Pattern: "timing_" + bucket})
	}

	if log := build.Log(); log != "" {
		for _, sp := range successPhrases {
			if sp.re.MatchString(log) {
				out = append(out, SuccessIndicator{Pattern: "log_success_" + patterns.Snake(sp.phrase)})
			}
		}
	}
	return out
}

// DeriveInitialSolution proposes a remediation for a newly seen error
// pattern from a fixed rule table. It returns nil when no rule applies.
func DeriveInitialSolution(ep contracts.ErrorPattern) *contracts.Solution {
	lower := strings.ToLower(ep.Pattern)
	switch {
	case ep.Type == contracts.ErrorTypeTestFailure:
		return &contracts.Solution{
			Type:       contracts.SolutionRetry,
			MaxRetries: 2,
			Reason:     "Test failures often resolve on retry",
		}
	case ep.Type == contracts.ErrorTypeDependencyIssue:
		return &contracts.Solution{
			Type:       contracts.SolutionParameterAdjust,
			Parameters: map[string]string{"clean_dependencies": "true"},
			Reason:     "Clean dependency cache and retry",
		}
	case ep.Type == contracts.ErrorTypeCompilationError:
		return &contracts.Solution{
			Type:    contracts.SolutionNotification,
			Message: "Compilation error detected: " + ep.Pattern,
			Reason:  "Code changes needed, notify development team",
		}
	case ep.Type == contracts.ErrorTypeTimeout || strings.Contains(lower, "timeout"):
		return &contracts.Solution{
			Type:       contracts.SolutionParameterAdjust,
			Parameters: map[string]string{"timeout": "1800"},
			Reason:     "Increase timeout for long-running builds",
		}
	case ep.Type == contracts.ErrorTypeOutOfMemory ||
		strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom"):
		return &contracts.Solution{
			Type:       contracts.SolutionParameterAdjust,
			Parameters: map[string]string{"memory": "4g"},
			Reason:     "Increase memory allocation",
		}
	}
	return nil
}

func revertSolution(diff contracts.ParamDiff) *contracts.Solution {
	if len(diff.Changed) == 0 {
		return nil
	}
	params := make(map[string]string, len(diff.Changed))
	for k, c := range diff.Changed {
		params[k] = c.Old
	}
	return &contracts.Solution{
		Type:       contracts.SolutionParameterAdjust,
		Parameters: params,
		Reason:     "Revert parameter changes that may have caused failure",
	}
}

func failureContext(result *contracts.AnalysisResult) contracts.FailureContext {
	return contracts.FailureContext{
		BuildNumber: result.BuildInfo.BuildNumber,
		Timestamp:   result.Timestamp,
		Parameters:  contracts.CopyParams(result.BuildInfo.Parameters),
		Duration:    result.BuildInfo.Duration,
	}
}

// appendBounded appends ctx and keeps the newest MaxFailureContexts entries.
func appendBounded(contexts []contracts.FailureContext, ctx contracts.FailureContext) []contracts.FailureContext {
	contexts = append(contexts, ctx)
	if over := len(contexts) - contracts.MaxFailureContexts; over > 0 {
		contexts = append([]contracts.FailureContext(nil), contexts[over:]...)
	}
	return contexts
}

func errorTypeOrUnknown(t string) string {
	if t == "" {
		return contracts.ErrorTypeUnknown
	}
	return t
}
