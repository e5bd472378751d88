// Package validator performs static checks over a workflow definition
// against a registry snapshot, without executing anything.
package validator

import (
	"fmt"
	"sort"

	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

// Level is the severity of an Issue.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Issue is one finding produced by Validate.
type Issue struct {
	Level   Level  `json:"level"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// builtinLoopTypes are recognized directly by the validator and executor;
// they carry no registry.Entry because their ports are determined by
// their edges rather than a fixed NodeSpec.
var builtinLoopTypes = map[string]bool{
	"loop_group": true,
	"loop_start": true,
	"loop_end":   true,
	"loop_node":  true,
}

// Validate runs every structural check against wf and returns issues in
// deterministic order: errors before warnings before info, and within a
// level by node id.
func Validate(wf *workflow.Workflow, snap registry.Snapshot) []Issue {
	var issues []Issue

	nodesByID := make(map[string]workflow.Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodesByID[n.ID] = n
	}

	issues = append(issues, checkTypeExistence(wf, snap)...)
	issues = append(issues, checkEdgeEndpoints(wf, nodesByID, snap)...)
	issues = append(issues, checkRequiredInputs(wf, nodesByID, snap)...)
	issues = append(issues, checkPortTypeCompatibility(wf, nodesByID, snap)...)
	issues = append(issues, checkCycles(wf)...)
	issues = append(issues, checkLoopPairing(wf, nodesByID)...)
	issues = append(issues, checkLoopGroupMembership(wf, nodesByID)...)

	sortIssues(issues)
	return issues
}

func sortIssues(issues []Issue) {
	rank := func(l Level) int {
		switch l {
		case LevelError:
			return 0
		case LevelWarning:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		ri, rj := rank(issues[i].Level), rank(issues[j].Level)
		if ri != rj {
			return ri < rj
		}
		return issues[i].NodeID < issues[j].NodeID
	})
}

// lookupSpec resolves a node's port spec, whether it comes from the
// registry or from a built-in loop type's synthetic ports.
func lookupSpec(nodeType string, snap registry.Snapshot) (registry.NodeSpec, bool) {
	if e, ok := snap.Lookup(nodeType); ok {
		return e.Spec, true
	}
	if builtinLoopTypes[nodeType] {
		return syntheticLoopSpec(nodeType), true
	}
	return registry.NodeSpec{}, false
}

// syntheticLoopSpec returns a permissive spec for built-in loop types:
// their actual ports are determined dynamically by the edges attached to
// them (positional in_k/out_k, or init_*/feedback_*/loop_*/done_* banks),
// so the validator treats any port name on these types as acceptable and
// defers the real port-existence checks to the executor at run time.
func syntheticLoopSpec(nodeType string) registry.NodeSpec {
	return registry.NodeSpec{Type: nodeType, Label: nodeType}
}

func checkTypeExistence(wf *workflow.Workflow, snap registry.Snapshot) []Issue {
	var issues []Issue
	for _, n := range wf.Nodes {
		if builtinLoopTypes[n.Type] {
			continue
		}
		known, _, _ := snap.Status(n.Type)
		if !known {
			issues = append(issues, Issue{
				Level:   LevelError,
				NodeID:  n.ID,
				Message: fmt.Sprintf("unknown node type %q", n.Type),
			})
		}
	}
	return issues
}

func checkEdgeEndpoints(wf *workflow.Workflow, nodesByID map[string]workflow.Node, snap registry.Snapshot) []Issue {
	var issues []Issue
	for _, e := range wf.Edges {
		src, srcOK := nodesByID[e.Source]
		if !srcOK {
			issues = append(issues, Issue{Level: LevelError, NodeID: e.Source,
				Message: fmt.Sprintf("edge %s references unknown source node %q", e.ID, e.Source)})
		}
		tgt, tgtOK := nodesByID[e.Target]
		if !tgtOK {
			issues = append(issues, Issue{Level: LevelError, NodeID: e.Target,
				Message: fmt.Sprintf("edge %s references unknown target node %q", e.ID, e.Target)})
		}
		if !srcOK || !tgtOK {
			continue
		}

		if spec, ok := lookupSpec(src.Type, snap); ok && !builtinLoopTypes[src.Type] {
			if !hasPort(spec.PortsOut, e.SourcePort) {
				issues = append(issues, Issue{Level: LevelError, NodeID: src.ID,
					Message: fmt.Sprintf("node %s (%s) has no output port %q", src.ID, src.Type, e.SourcePort)})
			}
		}
		if spec, ok := lookupSpec(tgt.Type, snap); ok && !builtinLoopTypes[tgt.Type] {
			if !hasPort(spec.PortsIn, e.TargetPort) {
				issues = append(issues, Issue{Level: LevelError, NodeID: tgt.ID,
					Message: fmt.Sprintf("node %s (%s) has no input port %q", tgt.ID, tgt.Type, e.TargetPort)})
			}
		}
	}
	return issues
}

func hasPort(ports []registry.PortSpec, name string) bool {
	for _, p := range ports {
		if p.Name == name {
			return true
		}
	}
	return false
}

func checkRequiredInputs(wf *workflow.Workflow, nodesByID map[string]workflow.Node, snap registry.Snapshot) []Issue {
	var issues []Issue

	fedPorts := make(map[string]map[string]bool) // nodeID -> targetPort -> fed
	for _, e := range wf.Edges {
		if e.IsBackEdge {
			continue
		}
		if fedPorts[e.Target] == nil {
			fedPorts[e.Target] = map[string]bool{}
		}
		fedPorts[e.Target][e.TargetPort] = true
	}

	for _, n := range wf.Nodes {
		if builtinLoopTypes[n.Type] {
			continue
		}
		spec, ok := lookupSpec(n.Type, snap)
		if !ok {
			continue // already reported by checkTypeExistence
		}
		for _, port := range spec.PortsIn {
			if !port.Required {
				continue
			}
			if fedPorts[n.ID][port.Name] {
				continue
			}
			if _, inParams := n.Params[port.Name]; inParams {
				continue
			}
			if port.Default != nil {
				continue
			}
			issues = append(issues, Issue{Level: LevelError, NodeID: n.ID,
				Message: fmt.Sprintf("required input %q is not connected, has no param, and has no default", port.Name)})
		}
	}
	return issues
}

func checkPortTypeCompatibility(wf *workflow.Workflow, nodesByID map[string]workflow.Node, snap registry.Snapshot) []Issue {
	var issues []Issue
	for _, e := range wf.Edges {
		src, srcOK := nodesByID[e.Source]
		tgt, tgtOK := nodesByID[e.Target]
		if !srcOK || !tgtOK {
			continue
		}
		srcSpec, srcSpecOK := lookupSpec(src.Type, snap)
		tgtSpec, tgtSpecOK := lookupSpec(tgt.Type, snap)
		if !srcSpecOK || !tgtSpecOK || builtinLoopTypes[src.Type] || builtinLoopTypes[tgt.Type] {
			continue
		}

		srcType := portType(srcSpec.PortsOut, e.SourcePort)
		tgtType := portType(tgtSpec.PortsIn, e.TargetPort)
		if srcType == "" || tgtType == "" || srcType == "*" || tgtType == "*" {
			continue
		}
		if srcType != tgtType {
			issues = append(issues, Issue{Level: LevelWarning, NodeID: tgt.ID,
				Message: fmt.Sprintf("edge %s: port type mismatch %s.%s (%s) -> %s.%s (%s)",
					e.ID, src.ID, e.SourcePort, srcType, tgt.ID, e.TargetPort, tgtType)})
		}
	}
	return issues
}

func portType(ports []registry.PortSpec, name string) string {
	for _, p := range ports {
		if p.Name == name {
			return p.Type
		}
	}
	return ""
}

// checkCycles builds the graph ignoring back-edges and reports a cycle
// by naming one participating node.
func checkCycles(wf *workflow.Workflow) []Issue {
	adj := make(map[string][]string)
	for _, e := range wf.Edges {
		if e.IsBackEdge {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cycleNode string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				cycleNode = next
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return []Issue{{Level: LevelError, NodeID: cycleNode,
					Message: fmt.Sprintf("cycle detected involving node %s", cycleNode)}}
			}
		}
	}
	return nil
}

func checkLoopPairing(wf *workflow.Workflow, nodesByID map[string]workflow.Node) []Issue {
	var issues []Issue

	starts := make(map[string]string) // start id -> paired end id, if any
	endToStart := make(map[string]string)

	for _, n := range wf.Nodes {
		if n.Type != "loop_start" {
			continue
		}
		starts[n.ID] = ""
	}

	for _, n := range wf.Nodes {
		if n.Type != "loop_end" {
			continue
		}
		pairID, _ := n.Params["pair_id"].(string)
		if pairID == "" {
			issues = append(issues, Issue{Level: LevelError, NodeID: n.ID,
				Message: "loop_end has no params.pair_id"})
			continue
		}
		start, ok := nodesByID[pairID]
		if !ok || start.Type != "loop_start" {
			issues = append(issues, Issue{Level: LevelError, NodeID: n.ID,
				Message: fmt.Sprintf("loop_end's pair_id %q does not name a loop_start node", pairID)})
			continue
		}
		if existing, already := endToStart[pairID]; already {
			issues = append(issues, Issue{Level: LevelError, NodeID: n.ID,
				Message: fmt.Sprintf("loop_start %s is already paired with loop_end %s", pairID, existing)})
			continue
		}
		endToStart[pairID] = n.ID
		starts[pairID] = n.ID
	}

	for id, paired := range starts {
		if paired == "" {
			issues = append(issues, Issue{Level: LevelError, NodeID: id,
				Message: "loop_start is not paired with any loop_end"})
		}
	}
	return issues
}

func checkLoopGroupMembership(wf *workflow.Workflow, nodesByID map[string]workflow.Node) []Issue {
	var issues []Issue
	for _, n := range wf.Nodes {
		if n.ParentID == "" {
			continue
		}
		parent, ok := nodesByID[n.ParentID]
		if !ok {
			issues = append(issues, Issue{Level: LevelError, NodeID: n.ID,
				Message: fmt.Sprintf("parent_id %q does not reference any node", n.ParentID)})
			continue
		}
		if parent.Type != "loop_group" {
			issues = append(issues, Issue{Level: LevelError, NodeID: n.ID,
				Message: fmt.Sprintf("parent_id %q references a node of type %q, not loop_group", n.ParentID, parent.Type)})
		}
	}
	return issues
}
