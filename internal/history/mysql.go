package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists execution records in a shared MySQL database, for
// deployments that already run a MySQL instance for other services.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and ensures its
// schema exists. dsn uses the go-sql-driver/mysql DSN format
// (user:pass@tcp(host:port)/dbname).
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql history store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql history store: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		execution_id VARCHAR(64) PRIMARY KEY,
		workflow_id VARCHAR(255) NOT NULL,
		workflow_rev VARCHAR(64),
		started_at DATETIME(6) NOT NULL,
		finished_at DATETIME(6) NOT NULL,
		cancelled BOOLEAN NOT NULL,
		nodes JSON NOT NULL,
		INDEX idx_executions_workflow (workflow_id, started_at DESC)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *MySQLStore) Save(_ context.Context, rec Record) error {
	nodesJSON, err := json.Marshal(rec.Nodes)
	if err != nil {
		return fmt.Errorf("marshal node outcomes: %w", err)
	}

	query := `
		INSERT INTO executions (execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			finished_at = VALUES(finished_at),
			cancelled = VALUES(cancelled),
			nodes = VALUES(nodes)
	`
	_, err = s.db.Exec(query, rec.ExecutionID, rec.WorkflowID, rec.WorkflowRev, rec.StartedAt, rec.FinishedAt, rec.Cancelled, nodesJSON)
	if err != nil {
		return fmt.Errorf("save execution record: %w", err)
	}
	return nil
}

func (s *MySQLStore) Get(_ context.Context, executionID string) (Record, error) {
	query := `SELECT execution_id, workflow_id, workflow_rev, started_at, finished_at, cancelled, nodes FROM executions WHERE execution_id = ?`
	return scanRecord(s.db.QueryRow(query, executionID))
}

func (s *MySQLStore) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]Record, error) {
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

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
