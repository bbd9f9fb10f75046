// Package sqlite is the local annotation history store. It records each
// batch annotation run and its per-session results so past runs can be
// listed and compared without calling the completion API again.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	c := &Client{db: db}
	if err := c.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Annotation history store initialized", zap.String("path", dbPath))

	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS annotation_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		agent TEXT NOT NULL,
		model TEXT NOT NULL,
		sessions INTEGER NOT NULL,
		parsed INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON annotation_runs(started_at);

	CREATE TABLE IF NOT EXISTS annotation_results (
		run_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		try_count TEXT NOT NULL,
		score_summary TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, session_id, agent),
		FOREIGN KEY (run_id) REFERENCES annotation_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_results_session ON annotation_results(session_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// RecordRun stores run and its results in one transaction.
func (c *Client) RecordRun(ctx context.Context, run models.AnnotationRun, results []models.AnnotationResult) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO annotation_runs (id, source, agent, model, sessions, parsed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Source,
		run.Agent,
		run.Model,
		run.Sessions,
		run.Parsed,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotation_results (run_id, session_id, agent, try_count, score_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, session_id, agent) DO UPDATE SET
			try_count = excluded.try_count,
			score_summary = excluded.score_summary,
			created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, run.ID, r.SessionID, r.Agent, r.TryCount, r.ScoreSummary, r.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", r.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	logger.Debug("Annotation run recorded",
		zap.String("run_id", run.ID),
		zap.Int("results", len(results)),
	)
	return nil
}

// Runs returns the most recent runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]models.AnnotationRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source, agent, model, sessions, parsed, started_at, finished_at
		FROM annotation_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.AnnotationRun{}
	for rows.Next() {
		var run models.AnnotationRun
		var startedAt, finishedAt int64
		if err := rows.Scan(&run.ID, &run.Source, &run.Agent, &run.Model, &run.Sessions, &run.Parsed, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		run.FinishedAt = time.UnixMilli(finishedAt).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Results returns the results of one run ordered by session id.
func (c *Client) Results(ctx context.Context, runID string) ([]models.AnnotationResult, error) {
	return c.queryResults(ctx, `
		SELECT run_id, session_id, agent, try_count, score_summary, created_at
		FROM annotation_results
		WHERE run_id = ?
		ORDER BY session_id, agent`, runID)
}

// SessionHistory returns every recorded annotation of a session, newest first.
func (c *Client) SessionHistory(ctx context.Context, sessionID string) ([]models.AnnotationResult, error) {
	return c.queryResults(ctx, `
		SELECT run_id, session_id, agent, try_count, score_summary, created_at
		FROM annotation_results
		WHERE session_id = ?
		ORDER BY created_at DESC`, sessionID)
}

func (c *Client) queryResults(ctx context.Context, query string, arg any) ([]models.AnnotationResult, error) {
	rows, err := c.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []models.AnnotationResult{}
	for rows.Next() {
		var r models.AnnotationResult
		var createdAt int64
		if err := rows.Scan(&r.RunID, &r.SessionID, &r.Agent, &r.TryCount, &r.ScoreSummary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

// Prune deletes runs started before cutoff along with their results.
func (c *Client) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM annotation_runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info("Pruned annotation history", zap.Int64("runs", n))
	}
	return n, nil
}
