package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-agent/src/agent"
	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/provider"
)

type fakeEngine struct {
	patterns  map[string][]*contracts.PatternRecord
	actions   map[contracts.BuildKey][]contracts.ActionRecord
	analyses  map[contracts.BuildKey]*contracts.AnalysisResult
	learning  bool
	analyzed  []contracts.BuildKey
	analyzeFn func(key contracts.BuildKey) error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		patterns: map[string][]*contracts.PatternRecord{},
		actions:  map[contracts.BuildKey][]contracts.ActionRecord{},
		analyses: map[contracts.BuildKey]*contracts.AnalysisResult{},
		learning: true,
	}
}

func (f *fakeEngine) PatternJobs() []string {
	var jobs []string
	for j := range f.patterns {
		jobs = append(jobs, j)
	}
	return jobs
}

func (f *fakeEngine) Patterns(job string) []*contracts.PatternRecord { return f.patterns[job] }

func (f *fakeEngine) Actions(key contracts.BuildKey) []contracts.ActionRecord {
	return f.actions[key]
}

func (f *fakeEngine) Analysis(key contracts.BuildKey) (*contracts.AnalysisResult, bool) {
	r, ok := f.analyses[key]
	return r, ok
}

func (f *fakeEngine) LearningStatus() agent.LearningStatus {
	return agent.LearningStatus{Enabled: f.learning, Jobs: len(f.patterns)}
}

func (f *fakeEngine) SetLearning(enabled bool) { f.learning = enabled }

func (f *fakeEngine) AnalyzeAndAct(ctx context.Context, job string, number int) error {
	key := contracts.BuildKey{Job: job, Number: number}
	f.analyzed = append(f.analyzed, key)
	if f.analyzeFn != nil {
		return f.analyzeFn(key)
	}
	return nil
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	res, err := handler(t.Context(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text, res.IsError
}

func newTestServer(engine Engine) *Server {
	return NewServer(engine, "test", logger.NewSilentLogger())
}

func TestListPatterns(t *testing.T) {
	engine := newFakeEngine()
	seen := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.patterns["app"] = []*contracts.PatternRecord{
		{
			ID: "p1", Kind: contracts.KindFailure, Pattern: "error: connection refused", Frequency: 4, LastSeen: seen,
			Solution: &contracts.Solution{Type: contracts.SolutionRetry},
			Failure:  &contracts.FailureDetail{Severity: contracts.SeverityHigh, Confidence: 0.9, Contexts: make([]contracts.FailureContext, 2)},
		},
		{
			ID: "p2", Kind: contracts.KindCorrelation, Pattern: "param_change", Frequency: 1, LastSeen: seen,
			Correlation: &contracts.CorrelationDetail{Changed: map[string]contracts.ParameterChange{
				"memory": {Old: "4g", New: "2g"},
				"env":    {Old: "dev", New: "prod"},
			}},
		},
	}
	s := newTestServer(engine)

	text, isErr := callTool(t, s.handleListPatterns, map[string]any{"job": "app"})
	require.False(t, isErr, text)

	var got []JobPatterns
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	require.Len(t, got, 1)
	require.Len(t, got[0].Patterns, 2)
	assert.Equal(t, contracts.SolutionRetry, got[0].Patterns[0].Solution)
	assert.Equal(t, 2, got[0].Patterns[0].Observations)
	assert.Equal(t, []string{"env", "memory"}, got[0].Patterns[1].Changed)

	text, _ = callTool(t, s.handleListPatterns, map[string]any{"kind": "correlation"})
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	require.Len(t, got, 1)
	require.Len(t, got[0].Patterns, 1)
	assert.Equal(t, "p2", got[0].Patterns[0].ID)

	text, _ = callTool(t, s.handleListPatterns, map[string]any{"job": "unknown"})
	assert.Equal(t, "[]", text)

	_, isErr = callTool(t, s.handleListPatterns, map[string]any{"kind": "bogus"})
	assert.True(t, isErr)
}

func TestGetBuildActions(t *testing.T) {
	engine := newFakeEngine()
	key := contracts.BuildKey{Job: "team/app", Number: 7}
	engine.actions[key] = []contracts.ActionRecord{{ID: "a1", Type: contracts.ActionPatternMatch, Status: contracts.StatusSucceeded}}
	engine.analyses[key] = &contracts.AnalysisResult{
		BuildInfo:   contracts.BuildInfo{JobName: "team/app", BuildNumber: 7, Result: contracts.ResultFailure, Duration: 90 * time.Second},
		LastSuccess: &contracts.BuildInfo{BuildNumber: 5},
		ErrorPatterns: []contracts.ErrorPattern{
			{Pattern: "a", Context: "FAIL first", Type: contracts.ErrorTypeTestFailure, LineNumber: 3},
			{Pattern: "b", Context: "FAIL second"},
			{Pattern: "c"},
		},
		Severity:   contracts.SeverityMedium,
		Confidence: 0.8,
	}
	s := newTestServer(engine)

	text, isErr := callTool(t, s.handleGetBuildActions, map[string]any{
		"url":   "https://ci.example.com/job/team/job/app/7/",
		"limit": float64(2),
	})
	require.False(t, isErr, text)

	var rep BuildReport
	require.NoError(t, json.Unmarshal([]byte(text), &rep))
	assert.Equal(t, "team/app#7", rep.Build)
	require.Len(t, rep.Actions, 1)
	require.NotNil(t, rep.Analysis)
	assert.Equal(t, 5, rep.Analysis.LastSuccess)
	assert.Equal(t, "1m30s", rep.Analysis.Duration)
	assert.Equal(t, 1, rep.Analysis.Omitted)
	require.Len(t, rep.Analysis.ErrorPatterns, 2)
	assert.Equal(t, "FAIL first", rep.Analysis.ErrorPatterns[0].Message)
	assert.Equal(t, 3, rep.Analysis.ErrorPatterns[0].Line)

	text, isErr = callTool(t, s.handleGetBuildActions, map[string]any{"job": "other", "number": float64(1)})
	require.False(t, isErr, text)
	rep = BuildReport{}
	require.NoError(t, json.Unmarshal([]byte(text), &rep))
	assert.Nil(t, rep.Analysis)
	assert.Empty(t, rep.Actions)
}

func TestBuildKeyArguments(t *testing.T) {
	s := newTestServer(newFakeEngine())

	_, isErr := callTool(t, s.handleGetBuildActions, map[string]any{"job": "app"})
	assert.True(t, isErr)

	text, isErr := callTool(t, s.handleGetBuildActions, map[string]any{"url": "https://ci.example.com/view/all"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Invalid build URL")
}

func TestLearningTools(t *testing.T) {
	engine := newFakeEngine()
	s := newTestServer(engine)

	text, _ := callTool(t, s.handleLearningStatus, nil)
	var status agent.LearningStatus
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.True(t, status.Enabled)

	text, isErr := callTool(t, s.handleSetLearning, map[string]any{"enabled": false})
	require.False(t, isErr, text)
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.False(t, status.Enabled)
	assert.False(t, engine.learning)

	_, isErr = callTool(t, s.handleSetLearning, map[string]any{})
	assert.True(t, isErr)
}

func TestAnalyzeBuild(t *testing.T) {
	engine := newFakeEngine()
	key := contracts.BuildKey{Job: "app", Number: 12}
	engine.analyzeFn = func(k contracts.BuildKey) error {
		engine.analyses[k] = &contracts.AnalysisResult{
			BuildInfo: contracts.BuildInfo{JobName: k.Job, BuildNumber: k.Number, Result: contracts.ResultFailure},
			Severity:  contracts.SeverityLow,
		}
		engine.actions[k] = []contracts.ActionRecord{{ID: "a1", Type: contracts.ActionTestFailure}}
		return nil
	}
	s := newTestServer(engine)

	text, isErr := callTool(t, s.handleAnalyzeBuild, map[string]any{"job": "app", "number": float64(12)})
	require.False(t, isErr, text)
	assert.Equal(t, []contracts.BuildKey{key}, engine.analyzed)

	var rep BuildReport
	require.NoError(t, json.Unmarshal([]byte(text), &rep))
	require.NotNil(t, rep.Analysis)
	assert.Equal(t, contracts.SeverityLow, rep.Analysis.Severity)
	assert.Len(t, rep.Actions, 1)
}

func TestAnalyzeBuildErrors(t *testing.T) {
	engine := newFakeEngine()
	s := newTestServer(engine)

	engine.analyzeFn = func(contracts.BuildKey) error { return provider.ErrBuildInProgress }
	text, isErr := callTool(t, s.handleAnalyzeBuild, map[string]any{"job": "app", "number": float64(3)})
	assert.True(t, isErr)
	assert.Equal(t, "build app#3 is still running", text)

	engine.analyzeFn = func(contracts.BuildKey) error {
		return provider.Transport("get build", provider.ErrAuthFailed)
	}
	text, isErr = callTool(t, s.handleAnalyzeBuild, map[string]any{"job": "app", "number": float64(3)})
	assert.True(t, isErr)
	assert.Contains(t, text, "Authentication failed")
}
