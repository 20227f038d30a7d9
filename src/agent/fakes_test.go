package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"remedy-agent/src/contracts"
	"remedy-agent/src/provider"
)

type trigger struct {
	job    string
	params map[string]string
}

type annotation struct {
	job    string
	number int
	text   string
}

// fakeCI is an in-memory provider.CIServer.
type fakeCI struct {
	mu          sync.Mutex
	list        func(depth int) ([]contracts.JobDescriptor, error)
	lastBuild   map[string]int
	infoErr     error
	infoCalls   map[string]int
	triggers    []trigger
	triggerErr  error
	annotations []annotation
	annotateErr error
}

func newFakeCI() *fakeCI {
	return &fakeCI{lastBuild: make(map[string]int), infoCalls: make(map[string]int)}
}

func (f *fakeCI) ListJobs(ctx context.Context, depth int) ([]contracts.JobDescriptor, error) {
	if f.list == nil {
		return nil, nil
	}
	return f.list(depth)
}

func (f *fakeCI) GetJobInfo(ctx context.Context, job string) (*contracts.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls[job]++
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &contracts.JobInfo{Name: job, LastBuildNumber: f.lastBuild[job]}, nil
}

func (f *fakeCI) setLastBuild(job string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBuild[job] = n
}

func (f *fakeCI) GetBuildInfo(ctx context.Context, job string, number int) (*contracts.BuildInfo, error) {
	return nil, provider.ErrBuildNotFound
}

func (f *fakeCI) LastSuccessfulBuild(ctx context.Context, job string, before int) (*contracts.BuildInfo, error) {
	return nil, nil
}

func (f *fakeCI) TriggerBuild(ctx context.Context, job string, params map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.triggers = append(f.triggers, trigger{job: job, params: params})
	return nil
}

func (f *fakeCI) PostBuildAnnotation(ctx context.Context, job string, number int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.annotations = append(f.annotations, annotation{job: job, number: number, text: text})
	return f.annotateErr
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []contracts.Notice
	events  []contracts.ActionEvent
	err     error
}

func (n *fakeNotifier) Notify(ctx context.Context, notice contracts.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

func (n *fakeNotifier) PublishAction(ctx context.Context, event contracts.ActionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// fakeAnalyzer serves canned analyses keyed by build.
type fakeAnalyzer struct {
	mu      sync.Mutex
	results map[contracts.BuildKey]*contracts.AnalysisResult
	errs    map[contracts.BuildKey]error
	calls   []contracts.BuildKey
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		results: make(map[contracts.BuildKey]*contracts.AnalysisResult),
		errs:    make(map[contracts.BuildKey]error),
	}
}

func (a *fakeAnalyzer) AnalyzeBuild(ctx context.Context, job string, number int) (*contracts.AnalysisResult, error) {
	key := contracts.BuildKey{Job: job, Number: number}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, key)
	if err, ok := a.errs[key]; ok {
		return nil, err
	}
	if r, ok := a.results[key]; ok {
		return r, nil
	}
	return nil, errors.New("no canned analysis")
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// analysis builds an AnalysisResult with the given error pattern keys.
func analysis(job string, number int, result contracts.BuildResult, params map[string]string, patterns ...string) *contracts.AnalysisResult {
	r := &contracts.AnalysisResult{
		BuildInfo: contracts.BuildInfo{
			JobName:     job,
			BuildNumber: number,
			Result:      result,
			Parameters:  params,
			Duration:    2 * time.Minute,
		},
		Severity:   contracts.SeverityMedium,
		Confidence: 0.8,
		Timestamp:  time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, p := range patterns {
		r.ErrorPatterns = append(r.ErrorPatterns, contracts.ErrorPattern{Pattern: p, Type: contracts.ErrorTypeUnknown})
	}
	return r
}

func withLog(r *contracts.AnalysisResult, log string) *contracts.AnalysisResult {
	r.BuildInfo.ConsoleLog = &log
	return r
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
