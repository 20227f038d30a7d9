package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"remedy-agent/src/provider"
)

var errMonitorPanic = errors.New("monitor panicked")

// startMonitor launches the polling task for job. The caller holds s.mu.
func (s *JobSupervisor) startMonitor(parent context.Context, job string) *monitorHandle {
	ctx, cancel := context.WithCancel(parent)
	h := &monitorHandle{job: job, cancel: cancel, done: make(chan struct{})}

	s.wg.Add(1)
	s.metrics.MonitorStarted()
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer cancel()

		err := s.monitorJob(ctx, job)
		fatal := errors.Is(err, errMonitorPanic)
		s.metrics.MonitorStopped(fatal)
		if fatal {
			s.logger.Error("[Monitor] Monitor for %s terminated: %v", job, err)
		}
	}()
	return h
}

// monitorJob polls job until ctx is done. It advances its last known build
// only once that build has been handled, so a transient error delays a
// build but never skips it. A panic ends the monitor.
func (s *JobSupervisor) monitorJob(ctx context.Context, job string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", errMonitorPanic, r, debug.Stack())
		}
	}()

	s.logger.Info("[Monitor] Started monitoring job: %s", job)
	var (
		lastKnown int
		attempts  int
	)
	for {
		wait := s.cfg.PollInterval

		info, err := s.jobs.GetJobInfo(ctx, job)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.metrics.LoopError("monitor")
			s.logger.Error("[Monitor] Error monitoring job %s: %v", job, err)
			wait = s.cfg.ErrorBackoff
		case info == nil:
			s.metrics.LoopError("monitor")
			s.logger.Error("[Monitor] Error monitoring job %s: %v", job, provider.Logic("get job info", errors.New("empty job payload")))
			wait = s.cfg.ErrorBackoff
		case info.LastBuildNumber > 0 && info.LastBuildNumber != lastKnown:
			number := info.LastBuildNumber
			err := s.handler(ctx, job, number)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case err == nil:
				lastKnown, attempts = number, 0
			case errors.Is(err, provider.ErrBuildInProgress):
				s.logger.Debug("[Monitor] %s#%d still running", job, number)
			default:
				attempts++
				s.metrics.LoopError("monitor")
				if attempts >= s.cfg.MaxBuildAttempts {
					s.logger.Error("[Monitor] Giving up on %s#%d after %d attempts: %v", job, number, attempts, err)
					lastKnown, attempts = number, 0
				} else {
					s.logger.Error("[Monitor] Error handling %s#%d (attempt %d): %v", job, number, attempts, err)
					wait = s.cfg.ErrorBackoff
				}
			}
		}

		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}
