// Package history keeps a summary of every detection run and remediation
// attempt so trends can be listed later.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/domain/remediation"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
	"github.com/pratik-mahalle/stackdrift/migrations"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the history database
type Config struct {
	Driver string
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string
}

// Run is the stored summary of one detection run
type Run struct {
	RunID             string       `json:"run_id"`
	Timestamp         time.Time    `json:"timestamp"`
	Target            string       `json:"target,omitempty"`
	Hosts             []string     `json:"hosts,omitempty"`
	BaselineRepo      string       `json:"baseline_repo,omitempty"`
	EntitiesAnalyzed  int          `json:"entities_analyzed"`
	EntitiesWithDrift int          `json:"entities_with_drift"`
	TotalItems        int          `json:"total_items"`
	Severity          drift.Counts `json:"severity_summary"`
	Failures          int          `json:"failures"`
	ReportPath        string       `json:"report_path,omitempty"`
}

// RunFromResult summarizes a detection result
func RunFromResult(res *drift.Result, reportPath string) Run {
	return Run{
		RunID:             res.RunID,
		Timestamp:         res.Timestamp,
		Target:            res.Target,
		Hosts:             res.Hosts,
		BaselineRepo:      res.BaselineRepo,
		EntitiesAnalyzed:  res.EntitiesAnalyzed,
		EntitiesWithDrift: res.EntitiesWithDrift,
		TotalItems:        res.TotalItems,
		Severity:          res.SeveritySummary,
		Failures:          len(res.Failures),
		ReportPath:        reportPath,
	}
}

// Remediation is the stored outcome of one publish attempt
type Remediation struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	remediation.Outcome
}

// Store persists run history in sqlite or postgres
type Store struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// Open connects to the history database and applies pending migrations.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(time.Hour)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	applied, err := RunMigrations(ctx, db, migrations.GetFS())
	if err != nil {
		db.Close()
		return nil, err
	}

	log = log.WithComponent("history")
	if applied > 0 {
		log.WithFields(map[string]interface{}{
			"driver":     cfg.Driver,
			"migrations": applied,
		}).Info("History schema migrated")
	}
	return &Store{db: db, logger: log, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run summary. Recording the same run twice is a no-op.
func (s *Store) Record(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO drift_runs (
  run_id, started_at, target, hosts, baseline_repo,
  entities_analyzed, entities_with_drift, total_items,
  breaking, functional, cosmetic, informational, failures, report_path
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (run_id) DO NOTHING
`,
		run.RunID, run.Timestamp.Unix(), run.Target, strings.Join(run.Hosts, ","), run.BaselineRepo,
		run.EntitiesAnalyzed, run.EntitiesWithDrift, run.TotalItems,
		run.Severity.Breaking, run.Severity.Functional, run.Severity.Cosmetic, run.Severity.Informational,
		run.Failures, run.ReportPath,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	s.logger.With("run_id", run.RunID).Debug("Run recorded")
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, started_at, target, hosts, baseline_repo,
  entities_analyzed, entities_with_drift, total_items,
  breaking, functional, cosmetic, informational, failures, report_path
FROM drift_runs ORDER BY started_at DESC, run_id DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var (
			r       Run
			started int64
			hosts   string
		)
		if err := rows.Scan(&r.RunID, &started, &r.Target, &hosts, &r.BaselineRepo,
			&r.EntitiesAnalyzed, &r.EntitiesWithDrift, &r.TotalItems,
			&r.Severity.Breaking, &r.Severity.Functional, &r.Severity.Cosmetic, &r.Severity.Informational,
			&r.Failures, &r.ReportPath,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Timestamp = time.Unix(started, 0).UTC()
		if hosts != "" {
			r.Hosts = strings.Split(hosts, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordRemediation stores the outcome of a publish attempt.
func (s *Store) RecordRemediation(ctx context.Context, runID string, out remediation.Outcome) (*Remediation, error) {
	rec := &Remediation{
		ID:        uuid.NewString(),
		RunID:     runID,
		CreatedAt: s.now().UTC().Truncate(time.Second),
		Outcome:   out,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO remediations (
  id, run_id, created_at, entity_name, branch, file_path,
  state, failed_at, pull_request_url, dry_run, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`,
		rec.ID, rec.RunID, rec.CreatedAt.Unix(), out.EntityName, out.Branch, out.FilePath,
		string(out.State), string(out.FailedAt), out.PullRequestURL, out.DryRun, out.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record remediation for %s: %w", out.EntityName, err)
	}
	return rec, nil
}

// Remediations returns up to limit remediation attempts, newest first.
func (s *Store) Remediations(ctx context.Context, limit int) ([]Remediation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, created_at, entity_name, branch, file_path,
  state, failed_at, pull_request_url, dry_run, error
FROM remediations ORDER BY created_at DESC, id DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query remediations: %w", err)
	}
	defer rows.Close()

	out := []Remediation{}
	for rows.Next() {
		var (
			r        Remediation
			created  int64
			state    string
			failedAt string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &created, &r.EntityName, &r.Branch, &r.FilePath,
			&state, &failedAt, &r.PullRequestURL, &r.DryRun, &r.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan remediation: %w", err)
		}
		r.CreatedAt = time.Unix(created, 0).UTC()
		r.State = remediation.State(state)
		r.FailedAt = remediation.State(failedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
