package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/metrics"
	"remedy-agent/src/provider"
	"remedy-agent/src/store"
)

// persistTimeout bounds one write-through call to the durable store.
const persistTimeout = 5 * time.Second

// BuildAnalyzer produces the analysis of one build.
type BuildAnalyzer interface {
	AnalyzeBuild(ctx context.Context, job string, number int) (*contracts.AnalysisResult, error)
}

// ActionPublisher is implemented by notifiers that also mirror ledger
// appends to subscribers.
type ActionPublisher interface {
	PublishAction(ctx context.Context, event contracts.ActionEvent) error
}

// Options configures a Manager.
type Options struct {
	LearningEnabled bool
	Supervisor      SupervisorConfig
	RefreshInterval time.Duration
	CleanupInterval time.Duration
	PatternTTL      time.Duration
	AnalysisTTL     time.Duration
}

// Manager wires the engine together: monitors feed builds into
// AnalyzeAndAct, which caches the analysis, remediates failures and learns
// patterns. Every mutation is mirrored to the durable store.
type Manager struct {
	analyzer BuildAnalyzer
	store    store.Store
	notifier Notifier
	opts     Options
	metrics  *metrics.Metrics
	logger   logger.Logger
	now      func() time.Time

	cache       *AnalysisCache
	ledger      *ActionLedger
	patterns    *PatternStore
	learner     *Learner
	remediation *RemediationEngine
	supervisor  *JobSupervisor

	learning atomic.Bool
}

// NewManager builds a Manager. ci serves discovery, polling and remediation;
// st may be nil to run without durability.
func NewManager(ci provider.CIServer, analyzer BuildAnalyzer, st store.Store, notifier Notifier, opts Options, m *metrics.Metrics, log logger.Logger) *Manager {
	mgr := &Manager{
		analyzer: analyzer,
		store:    st,
		notifier: notifier,
		opts:     opts,
		metrics:  m,
		logger:   log,
		now:      time.Now,
		cache:    NewAnalysisCache(),
		ledger:   NewActionLedger(),
		patterns: NewPatternStore(),
	}
	mgr.learning.Store(opts.LearningEnabled)

	mgr.patterns.OnChange(mgr.persistPattern)
	mgr.ledger.OnAppend(mgr.persistAction)

	mgr.learner = NewLearner(mgr.patterns, mgr.cache, log)
	mgr.remediation = NewRemediationEngine(ci, notifier, mgr.patterns, mgr.ledger, log)
	mgr.supervisor = NewJobSupervisor(ci, mgr.AnalyzeAndAct, opts.Supervisor, []PeriodicTask{
		{Name: "pattern-refresh", Interval: opts.RefreshInterval, Run: mgr.refreshPatterns},
		{Name: "cache-cleanup", Interval: opts.CleanupInterval, Run: mgr.cleanup},
	}, m, log)
	return mgr
}

// LoadPatterns seeds the pattern store from the durable store. A load
// failure leaves the store empty and is only logged.
func (m *Manager) LoadPatterns(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.logger.Info("[Manager] Loading patterns from database")
	records, err := m.store.LoadPatterns(ctx)
	if err != nil {
		m.logger.Warn("[Manager] Error loading patterns from database, starting empty: %v", provider.Persistence("load patterns", err))
		return
	}
	m.patterns.Load(records)

	total := 0
	for _, recs := range records {
		total += len(recs)
	}
	m.logger.Info("[Manager] Loaded %d patterns from database", total)
	m.updatePatternGauge()
}

// Run monitors jobs until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	return m.supervisor.Run(ctx)
}

// AnalyzeAndAct analyzes job#number, caches the analysis, remediates a
// failure and, when learning is enabled, learns from the build.
func (m *Manager) AnalyzeAndAct(ctx context.Context, job string, number int) error {
	key := contracts.BuildKey{Job: job, Number: number}
	m.logger.Info("[Manager] Starting analysis for build %s", key)
	start := m.now()

	result, err := m.analyzer.AnalyzeBuild(ctx, job, number)
	if err != nil {
		if !errors.Is(err, provider.ErrBuildInProgress) {
			m.metrics.AnalysisFailed(errorKind(err))
		}
		return err
	}
	if result == nil {
		return provider.Logic("analyze "+key.String(), errors.New("analyzer returned no result"))
	}

	m.cache.Put(result)
	m.persistAnalysis(result)
	m.metrics.SetCachedAnalyses(m.cache.Len())

	if result.BuildInfo.Result != contracts.ResultSuccess {
		m.remediation.HandleFailure(ctx, result)
	} else {
		m.remediation.ResetRetries(job)
	}

	if m.learning.Load() {
		m.learner.Learn(result)
		m.updatePatternGauge()
	}

	m.metrics.BuildAnalyzed(string(result.BuildInfo.Result), m.now().Sub(start))
	return nil
}

// SetLearning enables or disables pattern learning. Remediation continues
// either way.
func (m *Manager) SetLearning(enabled bool) {
	m.learning.Store(enabled)
	m.logger.Info("[Manager] Learning enabled: %v", enabled)
}

// LearningStatus summarizes the learned state.
type LearningStatus struct {
	Enabled        bool                          `json:"enabled"`
	Jobs           int                           `json:"jobs"`
	Patterns       map[contracts.PatternKind]int `json:"patterns"`
	CachedAnalyses int                           `json:"cached_analyses"`
	Actions        int                           `json:"actions"`
	ActiveMonitors []string                      `json:"active_monitors"`
}

func (m *Manager) LearningStatus() LearningStatus {
	return LearningStatus{
		Enabled:        m.learning.Load(),
		Jobs:           len(m.patterns.Jobs()),
		Patterns:       m.patterns.Counts(),
		CachedAnalyses: m.cache.Len(),
		Actions:        m.ledger.Len(),
		ActiveMonitors: m.supervisor.ActiveJobs(),
	}
}

// Patterns returns the job's learned patterns.
func (m *Manager) Patterns(job string) []*contracts.PatternRecord {
	return m.patterns.Snapshot(job)
}

// PatternJobs lists jobs with learned patterns.
func (m *Manager) PatternJobs() []string {
	return m.patterns.Jobs()
}

// Actions returns the actions recorded for a build.
func (m *Manager) Actions(key contracts.BuildKey) []contracts.ActionRecord {
	return m.ledger.Get(key)
}

// Analysis returns the cached analysis of a build.
func (m *Manager) Analysis(key contracts.BuildKey) (*contracts.AnalysisResult, bool) {
	return m.cache.Get(key)
}

func (m *Manager) refreshPatterns(ctx context.Context) error {
	promoted, pruned := m.learner.Refresh(m.opts.PatternTTL)
	m.logger.Info("[Manager] Pattern refresh: %d promoted, %d pruned", promoted, pruned)
	m.updatePatternGauge()
	return nil
}

func (m *Manager) cleanup(ctx context.Context) error {
	evicted := m.cache.Sweep(m.now(), m.opts.AnalysisTTL)
	m.metrics.SetCachedAnalyses(m.cache.Len())
	if evicted > 0 {
		m.logger.Info("[Manager] Evicted %d cached analyses", evicted)
	}
	if m.store == nil {
		return nil
	}
	if err := m.store.CleanupOlderThan(ctx, m.opts.PatternTTL, m.opts.AnalysisTTL); err != nil {
		return provider.Persistence("cleanup", err)
	}
	return nil
}

func (m *Manager) persistPattern(job string, rec *contracts.PatternRecord) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.SavePattern(ctx, job, rec); err != nil {
		m.metrics.PersistFailed("pattern")
		m.logger.Error("[Manager] %v", provider.Persistence("save pattern "+job, err))
	}
}

func (m *Manager) persistAction(key contracts.BuildKey, rec contracts.ActionRecord) {
	m.metrics.ActionRecorded(rec.Type, string(rec.Status))

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if pub, ok := m.notifier.(ActionPublisher); ok {
		if err := pub.PublishAction(ctx, contracts.ActionEvent{Build: key, Action: rec}); err != nil {
			m.logger.Warn("[Manager] Failed to publish action for %s: %v", key, err)
		}
	}
	if m.store == nil {
		return
	}
	if err := m.store.SaveAction(ctx, key, rec); err != nil {
		m.metrics.PersistFailed("action")
		m.logger.Error("[Manager] %v", provider.Persistence("save action "+key.String(), err))
	}
}

func (m *Manager) persistAnalysis(result *contracts.AnalysisResult) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.SaveAnalysis(ctx, result); err != nil {
		m.metrics.PersistFailed("analysis")
		m.logger.Error("[Manager] %v", provider.Persistence("save analysis "+result.Key().String(), err))
	}
}

func (m *Manager) updatePatternGauge() {
	counts := m.patterns.Counts()
	byName := make(map[string]int, len(counts))
	for kind, n := range counts {
		byName[string(kind)] = n
	}
	m.metrics.SetPatternCounts(byName)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, provider.ErrTransport):
		return "transport"
	case errors.Is(err, provider.ErrAnalysis):
		return "analysis"
	case errors.Is(err, provider.ErrPersistence):
		return "persistence"
	case errors.Is(err, provider.ErrLogic):
		return "logic"
	default:
		return "other"
	}
}
