// Package metrics exposes Prometheus collectors for the remediation agent.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remedy"

// Metrics holds the agent's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveMonitors   prometheus.Gauge
	MonitorExits     prometheus.Counter
	BuildsAnalyzed   *prometheus.CounterVec
	AnalysisErrors   *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	Actions          *prometheus.CounterVec
	LoopErrors       *prometheus.CounterVec
	LoopRestarts     *prometheus.CounterVec
	Patterns         *prometheus.GaugeVec
	CachedAnalyses   prometheus.Gauge
	PersistErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveMonitors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_monitors",
			Help:      "Number of jobs with a running monitor",
		}),
		MonitorExits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_exits_total",
			Help:      "Monitors that terminated on a fatal condition",
		}),
		BuildsAnalyzed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_analyzed_total",
			Help:      "Analyzed builds by build result",
		}, []string{"result"}),
		AnalysisErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_errors_total",
			Help:      "Failed analyses by error kind",
		}, []string{"kind"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time to analyze and act on one build",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Recorded remediation actions by type and status",
		}, []string{"type", "status"}),
		LoopErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Errors caught at a loop boundary",
		}, []string{"loop"}),
		LoopRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_restarts_total",
			Help:      "Background loops relaunched after an unexpected exit",
		}, []string{"loop"}),
		Patterns: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "patterns",
			Help:      "Learned patterns by kind",
		}, []string{"kind"}),
		CachedAnalyses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_analyses",
			Help:      "Entries in the analysis cache",
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Durable store write failures by entity",
		}, []string{"entity"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MonitorStarted() {
	if m != nil {
		m.ActiveMonitors.Inc()
	}
}

func (m *Metrics) MonitorStopped(fatal bool) {
	if m == nil {
		return
	}
	m.ActiveMonitors.Dec()
	if fatal {
		m.MonitorExits.Inc()
	}
}

func (m *Metrics) BuildAnalyzed(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.BuildsAnalyzed.WithLabelValues(result).Inc()
	m.AnalysisDuration.Observe(took.Seconds())
}

func (m *Metrics) AnalysisFailed(kind string) {
	if m != nil {
		m.AnalysisErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ActionRecorded(actionType, status string) {
	if m != nil {
		m.Actions.WithLabelValues(actionType, status).Inc()
	}
}

func (m *Metrics) LoopError(loop string) {
	if m != nil {
		m.LoopErrors.WithLabelValues(loop).Inc()
	}
}

func (m *Metrics) LoopRestarted(loop string) {
	if m != nil {
		m.LoopRestarts.WithLabelValues(loop).Inc()
	}
}

// SetPatternCounts replaces the per-kind pattern gauges.
func (m *Metrics) SetPatternCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.Patterns.Reset()
	for kind, n := range counts {
		m.Patterns.WithLabelValues(kind).Set(float64(n))
	}
}

func (m *Metrics) SetCachedAnalyses(n int) {
	if m != nil {
		m.CachedAnalyses.Set(float64(n))
	}
}

func (m *Metrics) PersistFailed(entity string) {
	if m != nil {
		m.PersistErrors.WithLabelValues(entity).Inc()
	}
}
