package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists execution records in a shared PostgreSQL
// database, for multi-gateway deployments that want a central history.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and ensures its
// schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres history store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres history store: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		workflow_rev TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		cancelled BOOLEAN NOT NULL,
		nodes JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Save(_ context.Context, rec Record) error {
	nodesJSON, err := json.Marshal(rec.Nodes)
	if err != nil {
		return fmt.Errorf("marshal node outcomes: %w", err)
	}

	query := `
		INSERT INTO executions (execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			cancelled = EXCLUDED.cancelled,
			nodes = EXCLUDED.nodes
	`
	_, err = s.db.Exec(query, rec.ExecutionID, rec.WorkflowID, rec.WorkflowRev, rec.StartedAt, rec.FinishedAt, rec.Cancelled, nodesJSON)
	if err != nil {
		return fmt.Errorf("save execution record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(_ context.Context, executionID string) (Record, error) {
	query := `SELECT execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes FROM executions WHERE execution_id = $1`
	return scanRecord(s.db.QueryRow(query, executionID))
}

func (s *PostgresStore) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes
		FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC LIMIT $2`
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
