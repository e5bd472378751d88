package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/executor"
	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

func emptySnapshot() registry.Snapshot {
	return registry.NewTestSnapshot(nil)
}

func countingRun(count *int32) RunFunc {
	return func(ctx context.Context, wf *workflow.Workflow, snap registry.Snapshot, opts executor.Options) *executor.Execution {
		atomic.AddInt32(count, 1)
		return executor.Execute(ctx, wf, snap, opts)
	}
}

func TestSchedulerAddAndRemoveTrigger(t *testing.T) {
	var count int32
	s := New(countingRun(&count), zap.NewNop())
	wf := &workflow.Workflow{Name: "wf"}

	err := s.AddCronTrigger("wf-1", "@every 1h", wf, emptySnapshot())
	require.NoError(t, err)

	err = s.AddCronTrigger("wf-1", "@every 1h", wf, emptySnapshot())
	assert.Error(t, err, "registering the same workflow ID twice should fail")

	assert.Len(t, s.Triggers(), 1)

	err = s.RemoveTrigger("wf-1")
	require.NoError(t, err)
	assert.Empty(t, s.Triggers())

	err = s.RemoveTrigger("wf-1")
	assert.Error(t, err, "removing an unregistered trigger should fail")
}

func TestSchedulerFireNow(t *testing.T) {
	var count int32
	s := New(countingRun(&count), zap.NewNop())
	wf := &workflow.Workflow{Name: "wf"}

	require.NoError(t, s.AddIntervalTrigger("wf-1", time.Hour, wf, emptySnapshot()))

	require.NoError(t, s.FireNow("wf-1"))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSchedulerFireNowUnknownWorkflow(t *testing.T) {
	var count int32
	s := New(countingRun(&count), zap.NewNop())

	err := s.FireNow("missing")
	assert.Error(t, err)
}

func TestSchedulerStopCancelsContext(t *testing.T) {
	var count int32
	s := New(countingRun(&count), zap.NewNop())
	s.Start()
	s.Stop()

	assert.Error(t, s.ctx.Err())
}
