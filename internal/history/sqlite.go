package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists execution records in a local SQLite file, the
// default choice for a single-gateway deployment with no external
// database to point at.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database at dsn and
// ensures its schema exists.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "./data/history.db"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history store: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		workflow_rev TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		cancelled BOOLEAN NOT NULL,
		nodes TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(_ context.Context, rec Record) error {
	nodesJSON, err := json.Marshal(rec.Nodes)
	if err != nil {
		return fmt.Errorf("marshal node outcomes: %w", err)
	}

	query := `
		INSERT INTO executions (execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			cancelled = excluded.cancelled,
			nodes = excluded.nodes
	`
	_, err = s.db.Exec(query, rec.ExecutionID, rec.WorkflowID, rec.WorkflowRev, rec.StartedAt, rec.FinishedAt, rec.Cancelled, string(nodesJSON))
	if err != nil {
		return fmt.Errorf("save execution record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(_ context.Context, executionID string) (Record, error) {
	query := `SELECT execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes FROM executions WHERE execution_id = ?`
	return scanRecord(s.db.QueryRow(query, executionID))
}

func (s *SQLiteStore) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes
		FROM executions WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.Query(query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	return scanRecordRows(row)
}

func scanRecordRows(row rowScanner) (Record, error) {
	var rec Record
	var nodesJSON string
	if err := row.Scan(&rec.ExecutionID, &rec.WorkflowID, &rec.WorkflowRev, &rec.StartedAt, &rec.FinishedAt, &rec.Cancelled, &nodesJSON); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, fmt.Errorf("execution not found")
		}
		return Record{}, fmt.Errorf("scan execution row: %w", err)
	}
	if err := json.Unmarshal([]byte(nodesJSON), &rec.Nodes); err != nil {
		return Record{}, fmt.Errorf("unmarshal node outcomes: %w", err)
	}
	return rec, nil
}
