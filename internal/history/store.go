// Package history persists a one-row-per-run summary of completed
// workflow executions so a caller can look up what ran, when, and with
// what outcome without replaying the event stream.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeflow/edgeflow/internal/config"
	"github.com/edgeflow/edgeflow/internal/executor"
)

// NodeOutcome summarizes one node's result within a run.
type NodeOutcome struct {
	NodeID     string
	NodeType   string
	Status     string // "completed", "error", "skipped"
	Error      string
	DurationMs int64
}

// Record is one stored execution summary.
type Record struct {
	ExecutionID string
	WorkflowID  string
	WorkflowRev string
	StartedAt   time.Time
	FinishedAt  time.Time
	Cancelled   bool
	Nodes       []NodeOutcome
}

// Store persists and retrieves execution Records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, executionID string) (Record, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]Record, error)
	Close() error
}

// Open selects and constructs a Store from cfg.Driver. An empty driver
// disables history and returns a nilStore that discards every write.
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "":
		return nilStore{}, nil
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	case "mysql":
		return NewMySQLStore(cfg.DSN)
	case "mongo":
		return NewMongoStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// FromResults builds a Record from a finished execution's Results plus
// the context the scheduler/CLI caller already has about the run.
func FromResults(executionID, workflowID, workflowRev string, startedAt time.Time, res *executor.Results, wfNodeTypes map[string]string) Record {
	rec := Record{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		WorkflowRev: workflowRev,
		StartedAt:   startedAt,
		FinishedAt:  startedAt.Add(time.Duration(res.TotalMs) * time.Millisecond),
		Cancelled:   res.Cancelled,
	}

	seen := map[string]bool{}
	for nodeID, outputs := range res.NodeOutputs {
		_ = outputs
		rec.Nodes = append(rec.Nodes, NodeOutcome{NodeID: nodeID, NodeType: wfNodeTypes[nodeID], Status: "completed"})
		seen[nodeID] = true
	}
	for nodeID, errMsg := range res.Errors {
		if seen[nodeID] {
			continue
		}
		rec.Nodes = append(rec.Nodes, NodeOutcome{NodeID: nodeID, NodeType: wfNodeTypes[nodeID], Status: "error", Error: errMsg})
	}

	return rec
}

type nilStore struct{}

func (nilStore) Save(context.Context, Record) error { return nil }
func (nilStore) Get(_ context.Context, executionID string) (Record, error) {
	return Record{}, fmt.Errorf("history is disabled: no record for %s", executionID)
}
func (nilStore) ListByWorkflow(context.Context, string, int) ([]Record, error) { return nil, nil }
func (nilStore) Close() error                                                  { return nil }
