package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const schema = `CREATE TABLE IF NOT EXISTS headswap_runs (
	job_id      VARCHAR(64)  NOT NULL PRIMARY KEY,
	workflow_id VARCHAR(255) NOT NULL DEFAULT '',
	prompt_id   VARCHAR(64)  NOT NULL DEFAULT '',
	status      VARCHAR(16)  NOT NULL,
	error       TEXT,
	checksum    CHAR(64)     NOT NULL DEFAULT '',
	location    VARCHAR(1024) NOT NULL DEFAULT '',
	duration_ms BIGINT       NOT NULL,
	finished_at DATETIME(3)  NOT NULL
)`

const insertRun = `INSERT INTO headswap_runs
	(job_id, workflow_id, prompt_id, status, error, checksum, location, duration_ms, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
	prompt_id = VALUES(prompt_id), status = VALUES(status), error = VALUES(error),
	checksum = VALUES(checksum), location = VALUES(location),
	duration_ms = VALUES(duration_ms), finished_at = VALUES(finished_at)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MySQLStore records runs in the headswap_runs table
type MySQLStore struct {
	db   *sql.DB
	exec execer
}

// NewMySQLStore opens the database and makes sure the table exists
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	normalized, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger table: %w", err)
	}

	return &MySQLStore{db: db, exec: db}, nil
}

func (s *MySQLStore) Record(ctx context.Context, run Run) error {
	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := s.exec.ExecContext(ctx, insertRun,
		run.JobID,
		run.WorkflowID,
		run.PromptID,
		run.Status,
		errText,
		run.Checksum,
		run.Location,
		run.Duration.Milliseconds(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.JobID, err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// normalizeDSN forces the options the ledger relies on
func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid ledger dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}
