package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow/internal/config"
	"github.com/edgeflow/edgeflow/internal/executor"
)

func TestSQLiteStoreSaveAndGet(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := Record{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		WorkflowRev: "v1",
		StartedAt:   time.Unix(1000, 0).UTC(),
		FinishedAt:  time.Unix(1005, 0).UTC(),
		Nodes: []NodeOutcome{
			{NodeID: "a", NodeType: "source", Status: "completed", DurationMs: 12},
			{NodeID: "b", NodeType: "sink", Status: "error", Error: "boom"},
		},
	}

	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.WorkflowID, got.WorkflowID)
	assert.Len(t, got.Nodes, 2)
	assert.Equal(t, "error", got.Nodes[1].Status)
}

func TestSQLiteStoreListByWorkflow(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec := Record{
			ExecutionID: string(rune('a' + i)),
			WorkflowID:  "wf-1",
			StartedAt:   time.Unix(int64(1000+i), 0).UTC(),
			FinishedAt:  time.Unix(int64(1001+i), 0).UTC(),
		}
		require.NoError(t, store.Save(ctx, rec))
	}

	recs, err := store.ListByWorkflow(ctx, "wf-1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestOpenDisabledReturnsNilStore(t *testing.T) {
	store, err := Open(config.HistoryConfig{})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "anything")
	assert.Error(t, err, "a disabled history store has nothing to return")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.HistoryConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestFromResultsSplitsCompletedAndErrored(t *testing.T) {
	res := &executor.Results{
		NodeOutputs: map[string]map[string]interface{}{
			"a": {"value": 1},
		},
		Errors: map[string]string{
			"b": "boom",
		},
		TotalMs: 50,
	}

	rec := FromResults("exec-1", "wf-1", "v1", time.Unix(1000, 0).UTC(), res, map[string]string{
		"a": "source",
		"b": "sink",
	})

	assert.Len(t, rec.Nodes, 2)
	byID := map[string]NodeOutcome{}
	for _, n := range rec.Nodes {
		byID[n.NodeID] = n
	}
	assert.Equal(t, "completed", byID["a"].Status)
	assert.Equal(t, "error", byID["b"].Status)
	assert.Equal(t, "boom", byID["b"].Error)
}
