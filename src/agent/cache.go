// Package agent is the autonomous monitoring engine: it discovers CI jobs,
// polls each one for new builds, analyzes them, acts on known failure
// patterns and learns new ones.
package agent

import (
	"sort"
	"sync"
	"time"

	"remedy-agent/src/contracts"
)

// AnalysisCache maps a build to its latest analysis. Entries carry no
// per-entry TTL; Sweep enforces the retention bound.
type AnalysisCache struct {
	mu      sync.RWMutex
	entries map[contracts.BuildKey]*contracts.AnalysisResult
}

func NewAnalysisCache() *AnalysisCache {
	return &AnalysisCache{entries: make(map[contracts.BuildKey]*contracts.AnalysisResult)}
}

// Put stores result under its build key, replacing any earlier analysis.
func (c *AnalysisCache) Put(result *contracts.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[result.Key()] = result
}

// Get returns the cached analysis for key. Stale entries are served until
// the next sweep.
func (c *AnalysisCache) Get(key contracts.BuildKey) (*contracts.AnalysisResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	return r, ok
}

// ForJob returns the job's cached analyses ordered by build number.
func (c *AnalysisCache) ForJob(job string) []*contracts.AnalysisResult {
	c.mu.RLock()
	var out []*contracts.AnalysisResult
	for k, r := range c.entries {
		if k.Job == job {
			out = append(out, r)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].BuildInfo.BuildNumber < out[j].BuildInfo.BuildNumber
	})
	return out
}

// Jobs lists the jobs with at least one cached analysis.
func (c *AnalysisCache) Jobs() []string {
	c.mu.RLock()
	seen := make(map[string]bool)
	for k := range c.entries {
		seen[k.Job] = true
	}
	c.mu.RUnlock()

	jobs := make([]string, 0, len(seen))
	for j := range seen {
		jobs = append(jobs, j)
	}
	sort.Strings(jobs)
	return jobs
}

// LastSuccessBefore returns the highest-numbered SUCCESS analysis of job
// with a build number below before.
func (c *AnalysisCache) LastSuccessBefore(job string, before int) (*contracts.AnalysisResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *contracts.AnalysisResult
	for k, r := range c.entries {
		if k.Job != job || k.Number >= before || r.BuildInfo.Result != contracts.ResultSuccess {
			continue
		}
		if best == nil || k.Number > best.BuildInfo.BuildNumber {
			best = r
		}
	}
	return best, best != nil
}

// Sweep evicts entries whose analysis is older than ttl at now. An entry
// exactly ttl old is kept. It returns the number of evicted entries.
func (c *AnalysisCache) Sweep(now time.Time, ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, r := range c.entries {
		if now.Sub(r.Timestamp) > ttl {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

func (c *AnalysisCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
