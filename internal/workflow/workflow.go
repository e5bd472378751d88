// Package workflow holds the persisted workflow data model: nodes, edges
// and the workflow envelope itself, round-tripping through JSON without
// losing fields the engine doesn't know about.
package workflow

import "encoding/json"

// Node is a vertex in the workflow graph.
type Node struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Position Position               `json:"position"`
	Params   map[string]interface{} `json:"params"`
	ParentID string                 `json:"parent_id,omitempty"`
	Muted    bool                   `json:"muted,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Position is the canvas coordinate of a node; the execution core never
// reads it, it only round-trips it for the front-end.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection from one node's output port to another
// node's input port.
type Edge struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	SourcePort string `json:"source_port"`
	Target     string `json:"target"`
	TargetPort string `json:"target_port"`
	IsBackEdge bool   `json:"is_back_edge,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Workflow is the persisted workflow document: a name plus ordered nodes
// and edges. Order is not semantically significant for execution (the
// executor computes its own topological order) but is preserved verbatim
// on decode/encode.
type Workflow struct {
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownNodeFields = map[string]bool{
	"id": true, "type": true, "position": true, "params": true,
	"parent_id": true, "muted": true,
}

var knownEdgeFields = map[string]bool{
	"id": true, "source": true, "source_port": true, "target": true,
	"target_port": true, "is_back_edge": true,
}

var knownWorkflowFields = map[string]bool{
	"name": true, "nodes": true, "edges": true,
}

// UnmarshalJSON decodes a Node, stashing any field not in the known set
// into Extra so a later MarshalJSON can restore it.
func (n *Node) UnmarshalJSON(data []byte) error {
	type alias Node
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = Node(a)
	return unmarshalExtra(data, knownNodeFields, &n.Extra)
}

// MarshalJSON encodes a Node, merging Extra back in alongside the known fields.
func (n Node) MarshalJSON() ([]byte, error) {
	type alias Node
	return marshalWithExtra(alias(n), n.Extra)
}

// UnmarshalJSON decodes an Edge, preserving unknown fields in Extra.
func (e *Edge) UnmarshalJSON(data []byte) error {
	type alias Edge
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Edge(a)
	return unmarshalExtra(data, knownEdgeFields, &e.Extra)
}

// MarshalJSON encodes an Edge, merging Extra back in.
func (e Edge) MarshalJSON() ([]byte, error) {
	type alias Edge
	return marshalWithExtra(alias(e), e.Extra)
}

// UnmarshalJSON decodes a Workflow, preserving unknown top-level fields.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	type alias Workflow
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*w = Workflow(a)
	return unmarshalExtra(data, knownWorkflowFields, &w.Extra)
}

// MarshalJSON encodes a Workflow, merging Extra back in.
func (w Workflow) MarshalJSON() ([]byte, error) {
	type alias Workflow
	return marshalWithExtra(alias(w), w.Extra)
}

// unmarshalExtra captures every top-level key of data that is not in known
// into *extra, so MarshalJSON can restore it later.
func unmarshalExtra(data []byte, known map[string]bool, extra *map[string]json.RawMessage) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if known[k] {
			delete(raw, k)
		}
	}
	if len(raw) == 0 {
		*extra = nil
		return nil
	}
	*extra = raw
	return nil
}

// marshalWithExtra marshals v (a struct with known fields only) and merges
// in the extra raw fields, known fields taking precedence on key collision.
func marshalWithExtra(v interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	known, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// NodeByID returns the node with the given id, if present.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Children returns the ids of every node whose ParentID equals groupID,
// in workflow node order.
func (w *Workflow) Children(groupID string) []string {
	var out []string
	for _, n := range w.Nodes {
		if n.ParentID == groupID {
			out = append(out, n.ID)
		}
	}
	return out
}
