package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgeflow/edgeflow/internal/workflow"
)

// loopDriver describes one of the three iteration constructs and the set
// of node ids its body owns at a given level of the graph.
type loopDriver struct {
	Kind       string // "container", "paired", "backedge"
	Node       workflow.Node
	BodyIDs    []string
	PairEnd    workflow.Node
	HasPairEnd bool
}

// partition splits nodeIDs into the plain top-level set and the drivers
// (keyed by driver node id) whose bodies are excluded from it. It is
// applied recursively: a driver's own BodyIDs are re-partitioned when that
// body is run, so loop constructs nested inside one another are resolved
// independently at each level.
func (r *run) partition(nodeIDs []string) ([]string, map[string]*loopDriver) {
	inSet := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		inSet[id] = true
	}

	excluded := map[string]bool{}
	drivers := map[string]*loopDriver{}

	for _, id := range nodeIDs {
		n := r.nodesByID[id]
		if n.Type != "loop_group" {
			continue
		}
		var body []string
		for _, c := range r.wf.Children(n.ID) {
			if inSet[c] {
				body = append(body, c)
				excluded[c] = true
			}
		}
		drivers[n.ID] = &loopDriver{Kind: "container", Node: n, BodyIDs: body}
	}

	pairEndByStart := map[string]workflow.Node{}
	for _, id := range nodeIDs {
		n := r.nodesByID[id]
		if n.Type != "loop_end" {
			continue
		}
		pairID, _ := n.Params["pair_id"].(string)
		if start, ok := r.nodesByID[pairID]; ok && start.Type == "loop_start" {
			pairEndByStart[pairID] = n
		}
	}
	for _, id := range nodeIDs {
		n := r.nodesByID[id]
		if n.Type != "loop_start" {
			continue
		}
		end, hasEnd := pairEndByStart[n.ID]
		stop := map[string]bool{}
		if hasEnd {
			stop[end.ID] = true
		}
		reach := forwardReachable(n.ID, r.idx, stop)

		var body []string
		for _, rid := range reach {
			if inSet[rid] {
				body = append(body, rid)
				excluded[rid] = true
			}
		}
		d := &loopDriver{Kind: "paired", Node: n, BodyIDs: body}
		if hasEnd {
			d.PairEnd = end
			d.HasPairEnd = true
			excluded[end.ID] = true
		}
		drivers[n.ID] = d
	}

	for _, id := range nodeIDs {
		n := r.nodesByID[id]
		if n.Type != "loop_node" {
			continue
		}
		reach := forwardReachable(n.ID, r.idx, map[string]bool{n.ID: true})
		var body []string
		for _, rid := range reach {
			if inSet[rid] {
				body = append(body, rid)
				excluded[rid] = true
			}
		}
		drivers[n.ID] = &loopDriver{Kind: "backedge", Node: n, BodyIDs: body}
	}

	var topLevel []string
	for _, id := range nodeIDs {
		if !excluded[id] {
			topLevel = append(topLevel, id)
		}
	}
	return topLevel, drivers
}

func mergeVirtual(outer, extra map[string]map[string]interface{}) map[string]map[string]interface{} {
	merged := make(map[string]map[string]interface{}, len(outer)+len(extra))
	for k, v := range outer {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// runBody executes one pass of a loop's child subgraph in topological
// order, dispatching nested drivers recursively and skipping anything
// whose upstream already failed.
func (r *run) runBody(bodyTopo []string, nested map[string]*loopDriver, virtual map[string]map[string]interface{}, loopIndex *int) {
	for _, id := range bodyTopo {
		if r.cancelled() {
			r.emitCancelledOnce()
			return
		}
		if r.failed[id] {
			continue
		}
		if r.bodyUpstreamFailed(id, virtual) {
			r.failed[id] = true
			continue
		}
		n := r.nodesByID[id]
		if d, ok := nested[id]; ok {
			r.runDriver(n, d, virtual, loopIndex)
			continue
		}
		r.execNode(n, virtual, loopIndex)
	}
}

func (r *run) bodyUpstreamFailed(nodeID string, virtual map[string]map[string]interface{}) bool {
	for _, e := range r.idx.byTarget[nodeID] {
		if _, isVirtual := virtual[e.Source]; isVirtual {
			continue
		}
		if r.failed[e.Source] {
			return true
		}
	}
	return false
}

// runDriver dispatches to the per-construct iteration routine.
func (r *run) runDriver(n workflow.Node, driver *loopDriver, virtual map[string]map[string]interface{}, outerIdx *int) {
	switch driver.Kind {
	case "container":
		r.runContainerLoop(n, driver, virtual)
	case "paired":
		r.runPairedLoop(n, driver, virtual)
	case "backedge":
		r.runBackEdgeLoop(n, driver, virtual)
	}
}

func (r *run) runContainerLoop(n workflow.Node, driver *loopDriver, virtual map[string]map[string]interface{}) {
	if r.cancelled() {
		r.emitCancelledOnce()
		return
	}

	topInputs := r.gatherInputs(n, virtual)
	iterations := iterationCount(n, topInputs)
	if n.Muted {
		iterations = 0
	}

	started := r.opts.now()
	r.emit(Event{Kind: EventNodeStart, NodeID: n.ID, NodeType: n.Type})

	state := map[string]interface{}{}
	for k, v := range topInputs {
		state[k] = v
	}

	bodyIDs, nested := r.partition(driver.BodyIDs)
	bodyTopo, err := topoSort(bodyIDs, r.wf.Edges)
	if err != nil {
		r.finishLoopError(n, started, fmt.Sprintf("cyclic loop body: %v", err))
		return
	}

	for i := 0; i < iterations; i++ {
		if r.cancelled() {
			r.emitCancelledOnce()
			return
		}
		idx := i
		iterVirtual := mergeVirtual(virtual, map[string]map[string]interface{}{n.ID: state})
		r.runBody(bodyTopo, nested, iterVirtual, &idx)

		for _, childID := range driver.BodyIDs {
			for _, e := range r.idx.bySource[childID] {
				if e.Target != n.ID {
					continue
				}
				if v, ok := r.sourceValue(e.Source, e.SourcePort, iterVirtual); ok {
					state[e.TargetPort] = v
				}
			}
		}
	}

	r.results.setOutputs(n.ID, state)
	r.emit(Event{Kind: EventNodeComplete, NodeID: n.ID, OutputsSummary: summarize(state),
		DurationMs: r.opts.now().Sub(started).Milliseconds()})
}

func (r *run) runPairedLoop(n workflow.Node, driver *loopDriver, virtual map[string]map[string]interface{}) {
	if r.cancelled() {
		r.emitCancelledOnce()
		return
	}

	topInputs := r.gatherInputs(n, virtual)
	iterations := iterationCount(n, topInputs)
	if n.Muted {
		iterations = 0
	}

	started := r.opts.now()
	r.emit(Event{Kind: EventNodeStart, NodeID: n.ID, NodeType: n.Type})

	state := map[string]interface{}{}
	for k, v := range topInputs {
		if rest, ok := strings.CutPrefix(k, "in_"); ok {
			state["out_"+rest] = v
		}
	}

	bodyIDs, nested := r.partition(driver.BodyIDs)
	bodyTopo, err := topoSort(bodyIDs, r.wf.Edges)
	if err != nil {
		r.finishLoopError(n, started, fmt.Sprintf("cyclic loop body: %v", err))
		return
	}

	endValues := map[string]interface{}{}
	for i := 0; i < iterations; i++ {
		if r.cancelled() {
			r.emitCancelledOnce()
			return
		}
		idx := i
		iterVirtual := mergeVirtual(virtual, map[string]map[string]interface{}{n.ID: state})
		r.runBody(bodyTopo, nested, iterVirtual, &idx)

		if !driver.HasPairEnd {
			continue
		}
		endInputs := r.gatherInputs(driver.PairEnd, iterVirtual)
		endValues = endInputs
		nextState := map[string]interface{}{}
		for k, v := range endInputs {
			if rest, ok := strings.CutPrefix(k, "in_"); ok {
				nextState["out_"+rest] = v
			}
		}
		state = nextState
	}

	r.results.setOutputs(n.ID, state)
	r.emit(Event{Kind: EventNodeComplete, NodeID: n.ID, OutputsSummary: summarize(state),
		DurationMs: r.opts.now().Sub(started).Milliseconds()})

	if driver.HasPairEnd {
		endOutputs := map[string]interface{}{}
		for k, v := range endValues {
			if rest, ok := strings.CutPrefix(k, "in_"); ok {
				endOutputs["out_"+rest] = v
			}
		}
		if len(endOutputs) == 0 {
			endOutputs = state
		}
		r.results.setOutputs(driver.PairEnd.ID, endOutputs)
		r.emit(Event{Kind: EventNodeStart, NodeID: driver.PairEnd.ID, NodeType: driver.PairEnd.Type})
		r.emit(Event{Kind: EventNodeComplete, NodeID: driver.PairEnd.ID, OutputsSummary: summarize(endOutputs)})
	}
}

func (r *run) runBackEdgeLoop(n workflow.Node, driver *loopDriver, virtual map[string]map[string]interface{}) {
	if r.cancelled() {
		r.emitCancelledOnce()
		return
	}

	topInputs := r.gatherInputs(n, virtual)
	iterations := iterationCount(n, topInputs)
	if n.Muted {
		iterations = 0
	}

	started := r.opts.now()
	r.emit(Event{Kind: EventNodeStart, NodeID: n.ID, NodeType: n.Type})

	loopState := map[string]interface{}{}
	for k, v := range topInputs {
		if rest, ok := strings.CutPrefix(k, "init_"); ok {
			loopState["loop_"+rest] = v
		}
	}

	bodyIDs, nested := r.partition(driver.BodyIDs)
	bodyTopo, err := topoSort(bodyIDs, r.wf.Edges)
	if err != nil {
		r.finishLoopError(n, started, fmt.Sprintf("cyclic loop body: %v", err))
		return
	}

	for i := 0; i < iterations; i++ {
		if r.cancelled() {
			r.emitCancelledOnce()
			return
		}
		idx := i
		iterVirtual := mergeVirtual(virtual, map[string]map[string]interface{}{n.ID: loopState})
		r.runBody(bodyTopo, nested, iterVirtual, &idx)

		next := map[string]interface{}{}
		for k, v := range loopState {
			next[k] = v // carry forward any feedback port not fed this pass
		}
		for _, e := range r.wf.Edges {
			if !e.IsBackEdge || e.Target != n.ID {
				continue
			}
			rest, ok := strings.CutPrefix(e.TargetPort, "feedback_")
			if !ok {
				continue
			}
			if v, ok := r.sourceValue(e.Source, e.SourcePort, iterVirtual); ok {
				next["loop_"+rest] = v
			}
		}
		loopState = next
	}

	finalOutputs := map[string]interface{}{}
	for k, v := range loopState {
		finalOutputs[k] = v
		if rest, ok := strings.CutPrefix(k, "loop_"); ok {
			finalOutputs["done_"+rest] = v
		}
	}

	r.results.setOutputs(n.ID, finalOutputs)
	r.emit(Event{Kind: EventNodeComplete, NodeID: n.ID, OutputsSummary: summarize(finalOutputs),
		DurationMs: r.opts.now().Sub(started).Milliseconds()})
}

func (r *run) finishLoopError(n workflow.Node, started time.Time, message string) {
	r.results.setError(n.ID, message)
	r.failed[n.ID] = true
	r.emit(Event{Kind: EventNodeError, NodeID: n.ID, Error: message, ErrorKind: ErrorKindRuntime,
		DurationMs: r.opts.now().Sub(started).Milliseconds()})
}

func iterationCount(n workflow.Node, inputs map[string]interface{}) int {
	if v, ok := inputs["iterations"]; ok {
		if i, ok := toInt(v); ok {
			return i
		}
	}
	if v, ok := n.Params["iterations"]; ok {
		if i, ok := toInt(v); ok {
			return i
		}
	}
	return 10
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}
