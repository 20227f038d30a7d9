// Package store is the durable mirror of the agent's in-memory state.
// The in-memory pattern store, analysis cache and action ledger are
// authoritative at runtime; a Store is loaded at startup and written through
// on every mutation.
package store

import (
	"context"
	"time"

	"remedy-agent/src/contracts"
)

// Store defines the interface for persisting patterns, actions and analyses.
type Store interface {
	// LoadPatterns returns every active pattern grouped by job.
	LoadPatterns(ctx context.Context) (map[string][]contracts.PatternRecord, error)

	// SavePattern inserts or replaces a pattern, keyed by its ID.
	SavePattern(ctx context.Context, job string, rec *contracts.PatternRecord) error

	// SaveAction appends an action recorded for a build.
	SaveAction(ctx context.Context, key contracts.BuildKey, rec contracts.ActionRecord) error

	// SaveAnalysis inserts or replaces the analysis of a build.
	SaveAnalysis(ctx context.Context, result *contracts.AnalysisResult) error

	// CleanupOlderThan deactivates patterns not seen within patternTTL and
	// deletes analyses older than analysisTTL.
	CleanupOlderThan(ctx context.Context, patternTTL, analysisTTL time.Duration) error

	// Close closes the store connection
	Close() error
}
