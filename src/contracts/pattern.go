package contracts

import "time"

// PatternKind tags the PatternRecord variant.
type PatternKind string

const (
	KindFailure     PatternKind = "failure"
	KindSuccess     PatternKind = "success"
	KindCorrelation PatternKind = "correlation"
)

// MaxFailureContexts bounds FailureDetail.Contexts.
const MaxFailureContexts = 10

// PatternRecord is a learned pattern. The header fields are shared by all
// variants; exactly one of Failure, Success or Correlation is set, matching Kind.
type PatternRecord struct {
	ID        string      `json:"id"`
	Kind      PatternKind `json:"kind"`
	Pattern   string      `json:"pattern"`
	Frequency int         `json:"frequency"`
	LastSeen  time.Time   `json:"last_seen"`
	Solution  *Solution   `json:"solution,omitempty"`

	Failure     *FailureDetail     `json:"failure,omitempty"`
	Success     *SuccessDetail     `json:"success,omitempty"`
	Correlation *CorrelationDetail `json:"correlation,omitempty"`
}

// FailureDetail is specific to failure patterns.
type FailureDetail struct {
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	// ErrorType is the classification of the first observation.
	ErrorType string `json:"error_type,omitempty"`
	// Contexts keeps the most recent observations, newest last.
	Contexts []FailureContext `json:"contexts"`
}

// FailureContext is one observation of a failure pattern.
type FailureContext struct {
	BuildNumber int               `json:"build_number"`
	Timestamp   time.Time         `json:"timestamp"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// SuccessDetail is specific to success indicators.
type SuccessDetail struct {
	Indicator   string            `json:"indicator"`
	SuccessRate float64           `json:"success_rate"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	MinDuration time.Duration     `json:"min_duration"`
	MaxDuration time.Duration     `json:"max_duration"`
}

// CorrelationDetail records what changed between a failure and the last success.
type CorrelationDetail struct {
	Changed        map[string]ParameterChange `json:"changed"`
	Added          map[string]string          `json:"added"`
	Removed        map[string]string          `json:"removed"`
	FailedBuild    BuildKey                   `json:"failed_build"`
	ReferenceBuild BuildKey                   `json:"reference_build"`
}

// ParameterChange is an old/new pair for a changed parameter.
type ParameterChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// SolutionType selects how a Solution is applied.
type SolutionType string

const (
	SolutionRetry           SolutionType = "retry"
	SolutionParameterAdjust SolutionType = "parameter_adjust"
	SolutionNotification    SolutionType = "notification"
)

// Solution is a remediation attached to a pattern.
type Solution struct {
	Type SolutionType `json:"type"`
	// Parameters are build parameter overrides for parameter_adjust.
	Parameters map[string]string `json:"parameters,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Message    string            `json:"message,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Clone returns a deep copy of the record.
func (p *PatternRecord) Clone() *PatternRecord {
	if p == nil {
		return nil
	}
	c := *p
	if p.Solution != nil {
		s := *p.Solution
		s.Parameters = copyStrings(p.Solution.Parameters)
		c.Solution = &s
	}
	if p.Failure != nil {
		f := *p.Failure
		f.Contexts = make([]FailureContext, len(p.Failure.Contexts))
		for i, fc := range p.Failure.Contexts {
			fc.Parameters = copyStrings(fc.Parameters)
			f.Contexts[i] = fc
		}
		c.Failure = &f
	}
	if p.Success != nil {
		s := *p.Success
		s.Parameters = copyStrings(p.Success.Parameters)
		s.Environment = copyStrings(p.Success.Environment)
		c.Success = &s
	}
	if p.Correlation != nil {
		cd := *p.Correlation
		cd.Added = copyStrings(p.Correlation.Added)
		cd.Removed = copyStrings(p.Correlation.Removed)
		if p.Correlation.Changed != nil {
			cd.Changed = make(map[string]ParameterChange, len(p.Correlation.Changed))
			for k, v := range p.Correlation.Changed {
				cd.Changed[k] = v
			}
		}
		c.Correlation = &cd
	}
	return &c
}

// CopyParams returns a copy of a parameter map; nil stays nil.
func CopyParams(m map[string]string) map[string]string {
	return copyStrings(m)
}

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
