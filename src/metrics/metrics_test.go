package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MonitorStarted()
		m.MonitorStopped(true)
		m.BuildAnalyzed("FAILURE", time.Second)
		m.ActionRecorded("pattern_match", "succeeded")
		m.LoopError("discovery")
		m.SetPatternCounts(map[string]int{"failure": 1})
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.MonitorStarted()
	m.MonitorStarted()
	m.MonitorStopped(true)
	m.BuildAnalyzed("FAILURE", 2*time.Second)
	m.ActionRecorded("test_failure", "succeeded")
	m.SetPatternCounts(map[string]int{"failure": 3, "success": 1})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "remedy_active_monitors 1")
	assert.Contains(t, body, "remedy_monitor_exits_total 1")
	assert.Contains(t, body, `remedy_builds_analyzed_total{result="FAILURE"} 1`)
	assert.Contains(t, body, `remedy_actions_total{status="succeeded",type="test_failure"} 1`)
	assert.Contains(t, body, `remedy_patterns{kind="failure"} 3`)
}
