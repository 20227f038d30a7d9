package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
	"remedy-agent/src/metrics"
)

// maxDiscoveryDepth bounds folder recursion during discovery. Sub-listings
// are always taken from the top level, so a folder re-appears in its own
// listing and the recursion would not end on its own.
const maxDiscoveryDepth = 5

// JobSource is the part of the CI server the supervisor and monitors read.
type JobSource interface {
	ListJobs(ctx context.Context, folderDepth int) ([]contracts.JobDescriptor, error)
	GetJobInfo(ctx context.Context, job string) (*contracts.JobInfo, error)
}

// BuildHandler analyzes and acts on one build. Returning an error wrapping
// provider.ErrBuildInProgress leaves the build pending for the next poll.
type BuildHandler func(ctx context.Context, job string, number int) error

// PeriodicTask is a background loop run by the supervisor alongside
// discovery.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// SupervisorConfig holds loop cadences.
type SupervisorConfig struct {
	// FolderDepth is passed to sub-listings of folders and multi-branch jobs.
	FolderDepth       int
	DiscoveryInterval time.Duration
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	// MaxBuildAttempts bounds how often a monitor retries a build whose
	// handling fails before moving past it.
	MaxBuildAttempts int
}

// JobSupervisor discovers jobs, keeps one monitor per job and runs the
// periodic background tasks.
type JobSupervisor struct {
	jobs    JobSource
	handler BuildHandler
	cfg     SupervisorConfig
	tasks   []PeriodicTask
	metrics *metrics.Metrics
	logger  logger.Logger

	mu       sync.Mutex
	monitors map[string]*monitorHandle
	wg       sync.WaitGroup
}

// monitorHandle is the supervising state of one running monitor.
type monitorHandle struct {
	job    string
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *monitorHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func NewJobSupervisor(jobs JobSource, handler BuildHandler, cfg SupervisorConfig, tasks []PeriodicTask, m *metrics.Metrics, log logger.Logger) *JobSupervisor {
	if cfg.MaxBuildAttempts <= 0 {
		cfg.MaxBuildAttempts = 3
	}
	return &JobSupervisor{
		jobs:     jobs,
		handler:  handler,
		cfg:      cfg,
		tasks:    tasks,
		metrics:  m,
		logger:   log,
		monitors: make(map[string]*monitorHandle),
	}
}

// Run drives discovery and the periodic tasks until ctx is cancelled, then
// stops every monitor and waits for them to return.
func (s *JobSupervisor) Run(ctx context.Context) error {
	s.logger.Info("[Supervisor] Starting with %d background tasks", len(s.tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.supervise(gctx, "discovery", s.discoveryLoop)
		return nil
	})
	for _, task := range s.tasks {
		g.Go(func() error {
			s.supervise(gctx, task.Name, func(ctx context.Context) {
				s.periodic(ctx, task)
			})
			return nil
		})
	}

	err := g.Wait()
	s.Shutdown()
	s.logger.Info("[Supervisor] Stopped")
	return err
}

// Shutdown cancels all monitors and waits for them to terminate.
func (s *JobSupervisor) Shutdown() {
	s.mu.Lock()
	for _, h := range s.monitors {
		h.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ActiveJobs lists jobs whose monitor is still running.
func (s *JobSupervisor) ActiveJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []string
	for job, h := range s.monitors {
		if !h.finished() {
			jobs = append(jobs, job)
		}
	}
	sort.Strings(jobs)
	return jobs
}

// supervise relaunches loop after a panic or an unexpected return until ctx
// is done.
func (s *JobSupervisor) supervise(ctx context.Context, name string, loop func(ctx context.Context)) {
	for {
		panicked := runRecovered(func() { loop(ctx) }, func(r any) {
			s.logger.Error("[Supervisor] %s loop panicked: %v\n%s", name, r, debug.Stack())
		})
		if ctx.Err() != nil {
			return
		}
		if !panicked {
			s.logger.Warn("[Supervisor] %s loop exited unexpectedly", name)
		}
		s.metrics.LoopRestarted(name)
		s.logger.Info("[Supervisor] Relaunching %s loop", name)
		if !sleep(ctx, s.cfg.ErrorBackoff) {
			return
		}
	}
}

func (s *JobSupervisor) periodic(ctx context.Context, task PeriodicTask) {
	for {
		if !sleep(ctx, task.Interval) {
			return
		}
		if err := task.Run(ctx); err != nil {
			s.metrics.LoopError(task.Name)
			s.logger.Error("[Supervisor] %s failed: %v", task.Name, err)
		}
	}
}

func (s *JobSupervisor) discoveryLoop(ctx context.Context) {
	for {
		wait := s.cfg.DiscoveryInterval
		if err := s.Reconcile(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.LoopError("discovery")
			s.logger.Error("[Supervisor] Error in build monitor: %v", err)
			wait = s.cfg.ErrorBackoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// Reconcile starts a monitor for every discovered job without one, then
// discards the handles of monitors that have terminated. A job whose
// monitor just died is therefore restarted on the next call, not this one.
func (s *JobSupervisor) Reconcile(ctx context.Context) error {
	jobs, err := s.DiscoverJobs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if _, ok := s.monitors[job]; ok {
			continue
		}
		s.logger.Info("[Supervisor] Starting monitor for job: %s", job)
		s.monitors[job] = s.startMonitor(ctx, job)
	}

	for job, h := range s.monitors {
		if h.finished() {
			s.logger.Warn("[Supervisor] Discarding finished monitor for job: %s", job)
			delete(s.monitors, job)
		}
	}
	return nil
}

// DiscoverJobs flattens the job hierarchy into fully qualified job names.
// Folders are expanded recursively and multi-branch projects into one job
// per branch. A sub-listing that fails is logged and skipped.
func (s *JobSupervisor) DiscoverJobs(ctx context.Context) ([]string, error) {
	top, err := s.jobs.ListJobs(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	var names []string
	s.collect(ctx, top, "", 0, &names)
	s.logger.Debug("[Supervisor] Found %d total jobs (including multibranch pipelines)", len(names))
	return names, nil
}

func (s *JobSupervisor) collect(ctx context.Context, items []contracts.JobDescriptor, prefix string, level int, names *[]string) {
	for _, item := range items {
		switch {
		case item.IsMultiBranch():
			subs, err := s.jobs.ListJobs(ctx, s.cfg.FolderDepth)
			if err != nil {
				s.logger.Warn("[Supervisor] Failed to get multibranch jobs for %s: %v", item.Name, err)
				continue
			}
			for _, sub := range subs {
				*names = append(*names, prefix+item.Name+"/"+sub.Name)
			}

		case item.IsFolder():
			if level+1 >= maxDiscoveryDepth {
				s.logger.Warn("[Supervisor] Not expanding folder %s%s: depth limit %d reached", prefix, item.Name, maxDiscoveryDepth)
				continue
			}
			subs, err := s.jobs.ListJobs(ctx, s.cfg.FolderDepth)
			if err != nil {
				s.logger.Warn("[Supervisor] Failed to get folder jobs for %s: %v", item.Name, err)
				continue
			}
			s.collect(ctx, subs, prefix+item.Name+"/", level+1, names)

		default:
			*names = append(*names, prefix+item.Name)
		}
	}
}

// runRecovered calls fn and reports whether it panicked.
func runRecovered(fn func(), onPanic func(r any)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			onPanic(r)
		}
	}()
	fn()
	return false
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
