// Package executor computes a topological schedule over a workflow and
// runs it, emitting a lazy event stream and accumulating final node
// outputs. It supports the three loop iteration constructs (container,
// paired, back-edge) as recursive sub-schedules nested inside the
// top-level graph.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

type run struct {
	ctx  context.Context
	wf   *workflow.Workflow
	snap registry.Snapshot
	opts Options

	events  chan Event
	results *Results

	nodesByID map[string]workflow.Node
	idx       edgeIndex

	failed           map[string]bool
	cancelledEmitted bool
	lastStack        string
}

// Execute schedules wf over snap and starts running it in the background,
// returning immediately with a handle exposing the lazy event stream and
// the Results it populates as nodes complete.
func Execute(ctx context.Context, wf *workflow.Workflow, snap registry.Snapshot, opts Options) *Execution {
	r := &run{
		ctx:       ctx,
		wf:        wf,
		snap:      snap,
		opts:      opts,
		events:    make(chan Event, 32),
		results:   newResults(),
		nodesByID: make(map[string]workflow.Node, len(wf.Nodes)),
		idx:       buildEdgeIndex(wf.Edges),
		failed:    map[string]bool{},
	}
	for _, n := range wf.Nodes {
		r.nodesByID[n.ID] = n
	}

	go r.run()
	return &Execution{events: r.events, results: r.results}
}

func (r *run) emit(e Event) {
	e.Timestamp = EventTime(r.opts.now())
	if e.Kind == EventLog && r.opts.Logger != nil {
		r.opts.Logger(e)
	}
	r.events <- e
}

func (r *run) cancelled() bool {
	select {
	case <-r.ctx.Done():
		return true
	default:
		return false
	}
}

func (r *run) emitCancelledOnce() {
	if r.cancelledEmitted {
		return
	}
	r.cancelledEmitted = true
	r.results.Cancelled = true
	r.emit(Event{Kind: EventCancelled})
}

func (r *run) run() {
	defer close(r.events)
	started := r.opts.now()

	r.emit(Event{Kind: EventStart, TotalNodes: len(r.wf.Nodes)})

	allIDs := make([]string, 0, len(r.wf.Nodes))
	for _, n := range r.wf.Nodes {
		allIDs = append(allIDs, n.ID)
	}

	topLevel, drivers := r.partition(allIDs)
	order, err := topoSort(topLevel, r.wf.Edges)
	if err != nil {
		r.emit(Event{Kind: EventNodeError, Error: fmt.Sprintf("top-level graph is cyclic: %v", err), ErrorKind: ErrorKindRuntime})
		return
	}

	for _, nodeID := range order {
		if r.cancelled() {
			r.emitCancelledOnce()
			return
		}
		if r.failed[nodeID] {
			continue
		}
		if r.topUpstreamFailed(nodeID) {
			r.failed[nodeID] = true
			continue
		}

		n := r.nodesByID[nodeID]
		if d, ok := drivers[nodeID]; ok {
			r.runDriver(n, d, nil, nil)
			continue
		}
		r.execNode(n, nil, nil)
	}

	if r.cancelledEmitted {
		return
	}
	r.results.TotalMs = r.opts.now().Sub(started).Milliseconds()
	r.emit(Event{Kind: EventComplete, TotalMs: r.results.TotalMs})
}

func (r *run) topUpstreamFailed(nodeID string) bool {
	for _, e := range r.idx.byTarget[nodeID] {
		if r.failed[e.Source] {
			return true
		}
	}
	return false
}

// gatherInputs applies the stacking and edge>param>default precedence
// rules for every port fed by an edge or declared with a default, plus
// any param that names a port not otherwise fed.
func (r *run) gatherInputs(n workflow.Node, virtual map[string]map[string]interface{}) map[string]interface{} {
	inputs := map[string]interface{}{}
	fed := map[string]bool{}

	portNames := map[string]bool{}
	for _, e := range r.idx.byTarget[n.ID] {
		portNames[e.TargetPort] = true
	}

	for port := range portNames {
		edges := r.idx.portValues(n.ID, port)
		if len(edges) == 1 {
			v, _ := r.sourceValue(edges[0].Source, edges[0].SourcePort, virtual)
			inputs[port] = v
		} else {
			seq := make([]interface{}, len(edges))
			for i, e := range edges {
				v, _ := r.sourceValue(e.Source, e.SourcePort, virtual)
				seq[i] = v
			}
			inputs[port] = seq
		}
		fed[port] = true
	}

	for k, v := range n.Params {
		if fed[k] {
			continue
		}
		if _, already := inputs[k]; already {
			continue
		}
		inputs[k] = v
	}

	if spec, ok := lookupSpec(n.Type, r.snap); ok {
		for _, p := range spec.PortsIn {
			if _, has := inputs[p.Name]; has {
				continue
			}
			if p.Default != nil {
				inputs[p.Name] = p.Default
			}
		}
	}

	return inputs
}

func (r *run) sourceValue(nodeID, port string, virtual map[string]map[string]interface{}) (interface{}, bool) {
	if virtual != nil {
		if vs, ok := virtual[nodeID]; ok {
			v, ok2 := vs[port]
			return v, ok2
		}
	}
	if out, ok := r.results.outputsOf(nodeID); ok {
		v, ok2 := out[port]
		return v, ok2
	}
	return nil, false
}

// execNode runs the per-node precondition chain and invocation described
// for ordinary (non-driver) nodes: muted pass-through, unavailability,
// breakpoint wait, invocation, and output normalization.
func (r *run) execNode(n workflow.Node, virtual map[string]map[string]interface{}, loopIndex *int) {
	inputs := r.gatherInputs(n, virtual)

	if n.Muted {
		outputs := map[string]interface{}{}
		if spec, ok := lookupSpec(n.Type, r.snap); ok {
			for _, out := range spec.PortsOut {
				if v, ok := inputs[out.Name]; ok {
					outputs[out.Name] = v
				}
			}
		} else {
			for k, v := range inputs {
				outputs[k] = v
			}
		}
		r.emit(Event{Kind: EventNodeStart, NodeID: n.ID, NodeType: n.Type, LoopIndex: copyIdx(loopIndex)})
		r.results.setOutputs(n.ID, outputs)
		r.emit(Event{Kind: EventNodeComplete, NodeID: n.ID, OutputsSummary: summarize(outputs), LoopIndex: copyIdx(loopIndex)})
		return
	}

	known, active, pluginID := r.snap.Status(n.Type)
	if !known || !active {
		kind := ErrorKindUnknown
		reason := fmt.Sprintf("node type %q is not registered", n.Type)
		if known && !active {
			kind = ErrorKindInactive
			reason = fmt.Sprintf("node type %q belongs to inactive plugin %s", n.Type, pluginID)
		}
		r.emit(Event{Kind: EventNodeStart, NodeID: n.ID, NodeType: n.Type, LoopIndex: copyIdx(loopIndex)})
		r.emit(Event{Kind: EventNodeError, NodeID: n.ID, Error: reason, ErrorKind: kind, LoopIndex: copyIdx(loopIndex)})
		r.results.setError(n.ID, reason)
		r.failed[n.ID] = true
		return
	}

	if r.opts.isBreakpoint(n.ID) {
		r.emit(Event{Kind: EventNodeBreakpoint, NodeID: n.ID, NodeType: n.Type, LoopIndex: copyIdx(loopIndex)})
		if r.opts.Resume == nil {
			r.failed[n.ID] = true
			r.emitCancelledOnce()
			return
		}
		select {
		case <-r.opts.Resume(n.ID):
		case <-r.ctx.Done():
			r.emitCancelledOnce()
			return
		}
	}

	entry, _ := r.snap.Lookup(n.Type)

	r.emit(Event{Kind: EventNodeStart, NodeID: n.ID, NodeType: n.Type, LoopIndex: copyIdx(loopIndex)})
	startedAt := r.opts.now()

	outputs, err := r.invoke(entry, n, inputs)
	duration := r.opts.now().Sub(startedAt).Milliseconds()

	if err != nil {
		r.emit(Event{Kind: EventNodeError, NodeID: n.ID, Error: err.Error(), StackTrace: r.lastStack,
			ErrorKind: ErrorKindRuntime, LoopIndex: copyIdx(loopIndex)})
		r.results.setError(n.ID, err.Error())
		r.failed[n.ID] = true
		return
	}

	r.results.setOutputs(n.ID, outputs)
	r.emit(Event{Kind: EventNodeComplete, NodeID: n.ID, OutputsSummary: summarize(outputs), DurationMs: duration, LoopIndex: copyIdx(loopIndex)})
}

func (r *run) invoke(entry registry.Entry, n workflow.Node, inputs map[string]interface{}) (outputs map[string]interface{}, err error) {
	r.lastStack = ""
	defer func() {
		if rec := recover(); rec != nil {
			r.lastStack = string(debug.Stack())
			err = fmt.Errorf("panic in node %s: %v", n.ID, rec)
		}
	}()

	if entry.Execute == nil {
		return map[string]interface{}{}, nil
	}
	return entry.Execute(n.Params, inputs)
}

func copyIdx(i *int) *int {
	if i == nil {
		return nil
	}
	return withLoopIndex(*i)
}
