package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-agent/src/broker"
	"remedy-agent/src/config"
	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/notify"
	"remedy-agent/src/provider"
	"remedy-agent/src/store"
)

func TestParseBuildArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    contracts.BuildKey
		wantErr bool
	}{
		{
			name: "build URL",
			args: []string{"https://jenkins.example.com/job/team/job/app/42/"},
			want: contracts.BuildKey{Job: "team/app", Number: 42},
		},
		{
			name: "job and number",
			args: []string{"team/app", "7"},
			want: contracts.BuildKey{Job: "team/app", Number: 7},
		},
		{
			name:    "invalid URL",
			args:    []string{"https://jenkins.example.com/view/all"},
			wantErr: true,
		},
		{
			name:    "non-numeric build number",
			args:    []string{"app", "latest"},
			wantErr: true,
		},
		{
			name:    "zero build number",
			args:    []string{"app", "0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBuildArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBuildArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseBuildArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func testResult() *contracts.AnalysisResult {
	log := "BUILD FAILED"
	return &contracts.AnalysisResult{
		BuildInfo: contracts.BuildInfo{
			JobName: "app", BuildNumber: 9, Result: contracts.ResultFailure, ConsoleLog: &log,
		},
		ErrorPatterns:   []contracts.ErrorPattern{{Pattern: "error: boom", Type: contracts.ErrorTypeCompilationError}, {Pattern: "oops"}},
		Differences:     []contracts.Difference{{Type: "parameters", Description: "memory: 4g -> 2g"}},
		Recommendations: []string{"Fix the build"},
		Severity:        contracts.SeverityHigh,
		Confidence:      0.9,
	}
}

func TestWriteReportText(t *testing.T) {
	var buf bytes.Buffer
	actions := []contracts.ActionRecord{{Type: contracts.ActionPatternMatch, Result: "Build retried"}}
	require.NoError(t, writeReport(&buf, testResult(), actions, false))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "app#9: FAILURE\n"))
	assert.Contains(t, out, "- Actions Taken: Build retried")
	assert.Contains(t, out, "[compilation_error] error: boom")
	assert.Contains(t, out, "[unknown] oops")
	assert.Contains(t, out, "Changed parameters since last success:\n  memory: 4g -> 2g")
}

func TestWriteReportJSON(t *testing.T) {
	result := testResult()
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, result, nil, true))

	var got report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.NotNil(t, got.Analysis)
	assert.Nil(t, got.Analysis.BuildInfo.ConsoleLog)
	assert.NotNil(t, result.BuildInfo.ConsoleLog, "caller's result must not be modified")

	assert.Error(t, writeReport(&buf, nil, nil, true))
}

func TestWritePatterns(t *testing.T) {
	seen := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)
	records := map[string][]contracts.PatternRecord{
		"b-job": {{Kind: contracts.KindSuccess, Pattern: "timing_fast", Frequency: 3, LastSeen: seen}},
		"a-job": {{
			Kind: contracts.KindFailure, Pattern: strings.Repeat("x", 100), Frequency: 2, LastSeen: seen,
			Solution: &contracts.Solution{Type: contracts.SolutionRetry},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, writePatterns(&buf, records, ""))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "a-job"))
	assert.Contains(t, lines[1], "retry")
	assert.Contains(t, lines[1], "2026-05-01 12:30")
	assert.Contains(t, lines[1], "...")
	assert.True(t, strings.HasPrefix(lines[2], "b-job"))

	buf.Reset()
	require.NoError(t, writePatterns(&buf, records, contracts.KindCorrelation))
	assert.Contains(t, buf.String(), "No patterns learned yet.")
}

func TestFollowNotices(t *testing.T) {
	notice := contracts.Notice{
		Build:     contracts.BuildKey{Job: "app", Number: 3},
		Message:   "Multiple failures in pkg.A - checking environment",
		Severity:  contracts.SeverityMedium,
		Timestamp: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(notice)
	require.NoError(t, err)

	msgs := make(chan broker.Message, 2)
	msgs <- broker.Message{Value: []byte("{")}
	msgs <- broker.Message{Value: data}
	close(msgs)

	var buf bytes.Buffer
	require.NoError(t, followNotices(&buf, msgs))
	assert.Equal(t, "2026-05-01 08:00:00 [MEDIUM] app#3: Multiple failures in pkg.A - checking environment\n", buf.String())
}

type fakeCI struct {
	provider.CIServer
	triggered int
}

func (f *fakeCI) TriggerBuild(ctx context.Context, job string, params map[string]string) error {
	f.triggered++
	return nil
}

func TestReadOnlyCI(t *testing.T) {
	inner := &fakeCI{}
	ci := &readOnlyCI{CIServer: inner, logger: logger.NewSilentLogger()}

	require.NoError(t, ci.TriggerBuild(t.Context(), "app", nil))
	require.NoError(t, ci.PostBuildAnnotation(t.Context(), "app", 1, "report"))
	assert.Zero(t, inner.triggered)
}

func TestManagerOptions(t *testing.T) {
	cfg := config.Default()
	opts := managerOptions(cfg)

	assert.True(t, opts.LearningEnabled)
	assert.Equal(t, 1, opts.Supervisor.FolderDepth)
	assert.Equal(t, 30*time.Second, opts.Supervisor.PollInterval)
	assert.Equal(t, 300*time.Second, opts.Supervisor.ErrorBackoff)
	assert.Equal(t, 30*24*time.Hour, opts.PatternTTL)
}

func TestOpenStoreDevelopment(t *testing.T) {
	cfg := config.Default()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "nested", "remedy.db")

	st, err := openStore(t.Context(), cfg, logger.NewSilentLogger())
	require.NoError(t, err)
	defer st.Close()

	sqlStore, ok := st.(*store.SQLStore)
	require.True(t, ok)
	assert.Equal(t, store.DialectSQLite, sqlStore.Dialect())
}

// syncBuffer is a bytes.Buffer safe for the logger goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInMemoryBrokerLogsNotices(t *testing.T) {
	var out syncBuffer
	log := logger.NewConsoleLoggerWithLevel(&out, "info")

	b, err := openBroker(t.Context(), config.Default(), log)
	require.NoError(t, err)
	defer b.Close()

	n := notify.NewBrokerNotifier(b, logger.NewSilentLogger())
	require.NoError(t, n.Notify(t.Context(), contracts.Notice{
		Build:   contracts.BuildKey{Job: "app", Number: 5},
		Message: "Dependency resolution failed",
	}))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "app#5") && strings.Contains(out.String(), "Dependency resolution failed")
	}, time.Second, 10*time.Millisecond)
}
