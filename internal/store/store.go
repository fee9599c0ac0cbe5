// Package store persists analyses, error signatures and remediation feedback
// in PostgreSQL or SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to dsn. postgres:// and postgresql:// URLs select PostgreSQL;
// anything else is treated as a SQLite file path (":memory:" works too).
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("open store: empty database url")
	}

	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	var driver, source string
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s.dialect, driver, source = dialectPostgres, "pgx", dsn
	default:
		s.dialect, driver = dialectSQLite, "sqlite"
		source = strings.TrimPrefix(dsn, "sqlite://")
		if !strings.Contains(source, "?") {
			source += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", s.dialect, err)
	}
	if s.dialect == dialectSQLite {
		// One writer at a time; SQLite serializes writes anyway.
		db.SetMaxOpenConns(1)
	}
	s.db = db

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Dialect() string { return string(s.dialect) }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s database: %w", s.dialect, err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) schema() []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "TIMESTAMP"
	if s.dialect == dialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS error_signatures (
			id ` + pk + `,
			signature_hash VARCHAR(64) NOT NULL UNIQUE,
			error_pattern TEXT NOT NULL DEFAULT '',
			error_type VARCHAR(100) NOT NULL DEFAULT '',
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			remediation_steps TEXT NOT NULL DEFAULT '[]',
			success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_signatures_type ON error_signatures (error_type)`,
		`CREATE TABLE IF NOT EXISTS workflow_analyses (
			id ` + pk + `,
			workflow_run_id BIGINT NOT NULL,
			repository VARCHAR(200) NOT NULL,
			workflow_name VARCHAR(200) NOT NULL DEFAULT '',
			status VARCHAR(50) NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			error_type VARCHAR(100) NOT NULL DEFAULT '',
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			remediation_steps TEXT NOT NULL DEFAULT '[]',
			error_signature_id BIGINT,
			check_run_id BIGINT,
			issue_id BIGINT,
			pr_id BIGINT,
			analysis_prompt TEXT NOT NULL DEFAULT '',
			analysis_response TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_analyses_run ON workflow_analyses (workflow_run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_analyses_repo ON workflow_analyses (repository, created_at)`,
		`CREATE TABLE IF NOT EXISTS learning_feedback (
			id ` + pk + `,
			workflow_analysis_id BIGINT NOT NULL,
			remediation_applied BOOLEAN NOT NULL DEFAULT FALSE,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			feedback_notes TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_learning_feedback_analysis ON learning_feedback (workflow_analysis_id)`,
	}
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range s.schema() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}

// Reset drops every table and recreates the schema. All data is lost.
func (s *Store) Reset(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"learning_feedback", "workflow_analyses", "error_signatures"} {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.Migrate(ctx)
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func encodeSteps(steps []string) (string, error) {
	if steps == nil {
		steps = []string{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("encode remediation steps: %w", err)
	}
	return string(b), nil
}

func decodeSteps(raw string) []string {
	var steps []string
	if err := json.Unmarshal([]byte(raw), &steps); err != nil || steps == nil {
		return []string{}
	}
	return steps
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
