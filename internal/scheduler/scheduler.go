// Package scheduler fires workflow executions on cron, interval, or
// external-trigger (MQTT) schedules, adapted from the teacher's flow
// scheduler to drive executor.Execute instead of a live *Flow.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/executor"
	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

// RunFunc starts one execution of a workflow and is called by every
// trigger kind. It mirrors executor.Execute's signature so callers can
// pass it directly.
type RunFunc func(ctx context.Context, wf *workflow.Workflow, snap registry.Snapshot, opts executor.Options) *executor.Execution

// Trigger describes one scheduled workflow.
type Trigger struct {
	WorkflowID string
	CronExpr   string
	Interval   time.Duration
	Type       string // "cron", "interval"
	Enabled    bool
}

// Scheduler owns a cron wheel and the registered triggers that fire
// workflow executions against it.
type Scheduler struct {
	cron      *cron.Cron
	workflows map[string]*workflow.Workflow
	snapshots map[string]registry.Snapshot
	entries   map[string]cron.EntryID
	run       RunFunc
	logger    *zap.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler that calls run to start each triggered execution.
func New(run RunFunc, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(),
		workflows: make(map[string]*workflow.Workflow),
		snapshots: make(map[string]registry.Snapshot),
		entries:   make(map[string]cron.EntryID),
		run:       run,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins firing triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron wheel and cancels any in-flight fire callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.cron.Stop()
}

// AddCronTrigger registers wf to fire on a standard cron expression.
func (s *Scheduler) AddCronTrigger(workflowID, cronExpr string, wf *workflow.Workflow, snap registry.Snapshot) error {
	return s.add(workflowID, cronExpr, wf, snap)
}

// AddIntervalTrigger registers wf to fire every interval.
func (s *Scheduler) AddIntervalTrigger(workflowID string, interval time.Duration, wf *workflow.Workflow, snap registry.Snapshot) error {
	return s.add(workflowID, fmt.Sprintf("@every %s", interval.String()), wf, snap)
}

func (s *Scheduler) add(workflowID, cronExpr string, wf *workflow.Workflow, snap registry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[workflowID]; exists {
		return fmt.Errorf("a trigger already exists for workflow %s", workflowID)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.fire(workflowID)
	})
	if err != nil {
		return fmt.Errorf("add trigger for workflow %s: %w", workflowID, err)
	}

	s.workflows[workflowID] = wf
	s.snapshots[workflowID] = snap
	s.entries[workflowID] = entryID
	return nil
}

// Register binds wf and snap to workflowID without scheduling any cron
// entry, so FireNow (and an external trigger like MQTTTrigger) can start
// it on demand. AddCronTrigger/AddIntervalTrigger call this implicitly;
// use it directly for event-only triggers that have no time-based
// schedule of their own.
func (s *Scheduler) Register(workflowID string, wf *workflow.Workflow, snap registry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[workflowID]; exists {
		return fmt.Errorf("a trigger already exists for workflow %s", workflowID)
	}
	s.workflows[workflowID] = wf
	s.snapshots[workflowID] = snap
	return nil
}

// RemoveTrigger unregisters a workflow's trigger.
func (s *Scheduler) RemoveTrigger(workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, hasCronEntry := s.entries[workflowID]
	if _, registered := s.workflows[workflowID]; !registered {
		return fmt.Errorf("no trigger registered for workflow %s", workflowID)
	}
	if hasCronEntry {
		s.cron.Remove(entryID)
		delete(s.entries, workflowID)
	}
	delete(s.workflows, workflowID)
	delete(s.snapshots, workflowID)
	return nil
}

func (s *Scheduler) fire(workflowID string) {
	s.mu.RLock()
	wf, wfOK := s.workflows[workflowID]
	snap, snapOK := s.snapshots[workflowID]
	ctx := s.ctx
	s.mu.RUnlock()

	if !wfOK || !snapOK {
		return
	}

	exec := s.run(ctx, wf, snap, executor.Options{})
	go func() {
		for e := range exec.Events() {
			if e.Kind == executor.EventNodeError {
				s.logger.Warn("scheduled workflow node failed",
					zap.String("workflow_id", workflowID), zap.String("node_id", e.NodeID), zap.String("error", e.Error))
			}
		}
	}()
}

// Triggers lists every currently registered trigger.
func (s *Scheduler) Triggers() []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Trigger, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, Trigger{WorkflowID: id, Enabled: true, Type: "cron"})
	}
	return out
}

// FireNow triggers workflowID immediately, outside its schedule — used by
// the MQTT trigger and by manual "run now" requests.
func (s *Scheduler) FireNow(workflowID string) error {
	s.mu.RLock()
	_, wfOK := s.workflows[workflowID]
	s.mu.RUnlock()
	if !wfOK {
		return fmt.Errorf("workflow %s is not registered with the scheduler", workflowID)
	}
	s.fire(workflowID)
	return nil
}
