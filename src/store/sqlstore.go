package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"remedy-agent/src/contracts"
)

// Dialect names the SQL backend behind a SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// schema is portable between Postgres and SQLite. Pattern and analysis
// bodies are stored as JSON documents next to the columns used for lookup
// and retention.
const schema = `
CREATE TABLE IF NOT EXISTS patterns (
    id VARCHAR(64) PRIMARY KEY,
    job_name TEXT NOT NULL,
    kind VARCHAR(16) NOT NULL,
    pattern TEXT NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 1,
    last_seen TIMESTAMP NOT NULL,
    record TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_patterns_job ON patterns (job_name);

CREATE TABLE IF NOT EXISTS actions (
    id VARCHAR(64) PRIMARY KEY,
    job_name TEXT NOT NULL,
    build_number INTEGER NOT NULL,
    type VARCHAR(32) NOT NULL,
    pattern_id VARCHAR(64),
    result TEXT,
    status VARCHAR(16) NOT NULL,
    details TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actions_build ON actions (job_name, build_number);

CREATE TABLE IF NOT EXISTS analyses (
    job_name TEXT NOT NULL,
    build_number INTEGER NOT NULL,
    result VARCHAR(16) NOT NULL,
    severity VARCHAR(16) NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    analysis TEXT NOT NULL,
    analyzed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (job_name, build_number)
);
`

var pgPlaceholder = regexp.MustCompile(`\$\d+`)

// SQLStore is a database/sql implementation of Store. Queries are written
// with Postgres placeholders and rebound for SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Dialect reports the backend in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect == DialectSQLite {
		return pgPlaceholder.ReplaceAllString(query, "?")
	}
	return query
}

// LoadPatterns returns every active pattern grouped by job.
func (s *SQLStore) LoadPatterns(ctx context.Context) (map[string][]contracts.PatternRecord, error) {
	query := `
		SELECT job_name, record
		FROM patterns
		WHERE is_active = $1
		ORDER BY job_name, last_seen
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), true)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]contracts.PatternRecord)
	for rows.Next() {
		var (
			job  string
			body []byte
			rec  contracts.PatternRecord
		)
		if err := rows.Scan(&job, &body); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pattern: %w", err)
		}
		out[job] = append(out[job], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}
	return out, nil
}

// SavePattern inserts or replaces a pattern keyed by its ID and marks it
// active.
func (s *SQLStore) SavePattern(ctx context.Context, job string, rec *contracts.PatternRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}

	query := `
		INSERT INTO patterns (id, job_name, kind, pattern, frequency, last_seen, record, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			frequency = excluded.frequency,
			last_seen = excluded.last_seen,
			record = excluded.record,
			is_active = excluded.is_active
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		rec.ID,
		job,
		string(rec.Kind),
		rec.Pattern,
		rec.Frequency,
		rec.LastSeen.UTC(),
		string(body),
		true,
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

// SaveAction appends an action recorded for a build.
func (s *SQLStore) SaveAction(ctx context.Context, key contracts.BuildKey, rec contracts.ActionRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal action details: %w", err)
	}

	var patternID sql.NullString
	if rec.PatternID != "" {
		patternID = sql.NullString{String: rec.PatternID, Valid: true}
	}

	query := `
		INSERT INTO actions (id, job_name, build_number, type, pattern_id, result, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		rec.ID,
		key.Job,
		key.Number,
		rec.Type,
		patternID,
		rec.Result,
		string(rec.Status),
		string(details),
		rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save action: %w", err)
	}
	return nil
}

// Actions returns the stored actions of a build, oldest first.
func (s *SQLStore) Actions(ctx context.Context, key contracts.BuildKey) ([]contracts.ActionRecord, error) {
	query := `
		SELECT id, type, pattern_id, result, status, details, created_at
		FROM actions
		WHERE job_name = $1 AND build_number = $2
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), key.Job, key.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []contracts.ActionRecord
	for rows.Next() {
		var (
			rec       contracts.ActionRecord
			patternID sql.NullString
			status    string
			details   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &patternID, &rec.Result, &status, &details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		rec.PatternID = patternID.String
		rec.Status = contracts.ActionStatus(status)
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action details: %w", err)
		}
		actions = append(actions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// SaveAnalysis inserts or replaces the analysis of a build.
func (s *SQLStore) SaveAnalysis(ctx context.Context, result *contracts.AnalysisResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	query := `
		INSERT INTO analyses (job_name, build_number, result, severity, confidence, analysis, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_name, build_number) DO UPDATE SET
			result = excluded.result,
			severity = excluded.severity,
			confidence = excluded.confidence,
			analysis = excluded.analysis,
			analyzed_at = excluded.analyzed_at
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		result.BuildInfo.JobName,
		result.BuildInfo.BuildNumber,
		string(result.BuildInfo.Result),
		string(result.Severity),
		result.Confidence,
		string(body),
		result.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// Analysis returns the stored analysis of a build, or nil when there is none.
func (s *SQLStore) Analysis(ctx context.Context, key contracts.BuildKey) (*contracts.AnalysisResult, error) {
	query := `
		SELECT analysis
		FROM analyses
		WHERE job_name = $1 AND build_number = $2
	`

	var body []byte
	err := s.db.QueryRowContext(ctx, s.rebind(query), key.Job, key.Number).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	var result contracts.AnalysisResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	return &result, nil
}

// CleanupOlderThan deactivates patterns not seen within patternTTL and
// deletes analyses older than analysisTTL.
func (s *SQLStore) CleanupOlderThan(ctx context.Context, patternTTL, analysisTTL time.Duration) error {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE patterns SET is_active = $1 WHERE last_seen < $2`),
		false, now.Add(-patternTTL)); err != nil {
		return fmt.Errorf("failed to deactivate patterns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM analyses WHERE analyzed_at < $1`),
		now.Add(-analysisTTL)); err != nil {
		return fmt.Errorf("failed to delete analyses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
