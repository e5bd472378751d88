package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

func echoEntry(nodeType string, in, out []registry.PortSpec) registry.Entry {
	spec := registry.NodeSpec{Type: nodeType, PortsIn: in, PortsOut: out}
	execute := func(params, inputs map[string]interface{}) (map[string]interface{}, error) {
		return inputs, nil
	}
	return registry.Entry{Spec: spec, Execute: execute, PluginID: "test/" + nodeType}
}

func snapWith(entries ...registry.Entry) registry.Snapshot {
	return registry.NewTestSnapshot(entries)
}

func TestValidateTypeExistence(t *testing.T) {
	entry := echoEntry("add", nil, []registry.PortSpec{{Name: "sum", Type: "number"}})
	snap := snapWith(entry)

	wf := &workflow.Workflow{Nodes: []workflow.Node{
		{ID: "n1", Type: "add"},
		{ID: "n2", Type: "missing_type"},
	}}

	issues := Validate(wf, snap)
	require.Len(t, issues, 1)
	assert.Equal(t, LevelError, issues[0].Level)
	assert.Equal(t, "n2", issues[0].NodeID)
}

func TestValidateEdgeEndpoints(t *testing.T) {
	src := echoEntry("source", nil, []registry.PortSpec{{Name: "out"}})
	dst := echoEntry("sink", []registry.PortSpec{{Name: "in"}}, nil)
	snap := snapWith(src, dst)

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "source"}, {ID: "b", Type: "sink"}},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "a", SourcePort: "out", Target: "b", TargetPort: "missing_port"},
			{ID: "e2", Source: "a", SourcePort: "missing_out", Target: "b", TargetPort: "in"},
		},
	}

	issues := Validate(wf, snap)
	require.Len(t, issues, 2)
	for _, iss := range issues {
		assert.Equal(t, LevelError, iss.Level)
	}
}

func TestValidateRequiredInputs(t *testing.T) {
	entry := echoEntry("needs_value", []registry.PortSpec{
		{Name: "value", Required: true},
		{Name: "optional", Required: false},
	}, nil)
	snap := snapWith(entry)

	wf := &workflow.Workflow{Nodes: []workflow.Node{{ID: "n1", Type: "needs_value"}}}
	issues := Validate(wf, snap)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "value")

	wfWithParam := &workflow.Workflow{Nodes: []workflow.Node{
		{ID: "n1", Type: "needs_value", Params: map[string]interface{}{"value": 3}},
	}}
	assert.Empty(t, Validate(wfWithParam, snap))

	defaultEntry := echoEntry("has_default", []registry.PortSpec{
		{Name: "value", Required: true, Default: 0},
	}, nil)
	wfWithDefault := &workflow.Workflow{Nodes: []workflow.Node{{ID: "n1", Type: "has_default"}}}
	assert.Empty(t, Validate(wfWithDefault, snapWith(defaultEntry)),
		"a required port carrying a non-nil default is satisfied without an edge or param")
}

func TestValidatePortTypeMismatchIsWarning(t *testing.T) {
	src := echoEntry("num_source", nil, []registry.PortSpec{{Name: "out", Type: "number"}})
	dst := echoEntry("str_sink", []registry.PortSpec{{Name: "in", Type: "string"}}, nil)
	snap := snapWith(src, dst)

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "num_source"}, {ID: "b", Type: "str_sink"}},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", SourcePort: "out", Target: "b", TargetPort: "in"}},
	}

	issues := Validate(wf, snap)
	require.Len(t, issues, 1)
	assert.Equal(t, LevelWarning, issues[0].Level)
}

func TestValidateCycleIgnoresBackEdges(t *testing.T) {
	entry := echoEntry("pass", []registry.PortSpec{{Name: "in"}}, []registry.PortSpec{{Name: "out"}})
	snap := snapWith(entry)

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "pass"}, {ID: "b", Type: "pass"}},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "a", SourcePort: "out", Target: "b", TargetPort: "in"},
			{ID: "e2", Source: "b", SourcePort: "out", Target: "a", TargetPort: "in", IsBackEdge: true},
		},
	}
	assert.Empty(t, Validate(wf, snap))

	wf.Edges[1].IsBackEdge = false
	issues := Validate(wf, snap)
	require.Len(t, issues, 1)
	assert.Equal(t, LevelError, issues[0].Level)
}

func TestValidateLoopPairing(t *testing.T) {
	snap := snapWith()
	wf := &workflow.Workflow{Nodes: []workflow.Node{
		{ID: "ls1", Type: "loop_start"},
		{ID: "le1", Type: "loop_end", Params: map[string]interface{}{"pair_id": "ls1"}},
		{ID: "ls2", Type: "loop_start"},
	}}

	issues := Validate(wf, snap)
	require.Len(t, issues, 1)
	assert.Equal(t, "ls2", issues[0].NodeID)
}

func TestValidateLoopGroupMembership(t *testing.T) {
	snap := snapWith()
	wf := &workflow.Workflow{Nodes: []workflow.Node{
		{ID: "g1", Type: "loop_group"},
		{ID: "child1", Type: "loop_start", ParentID: "g1"},
		{ID: "child2", Type: "loop_start", ParentID: "not_a_node"},
	}}

	issues := Validate(wf, snap)
	require.Len(t, issues, 1)
	assert.Equal(t, "child2", issues[0].NodeID)
}

func TestValidateOutputOrdering(t *testing.T) {
	entry := echoEntry("needs_value", []registry.PortSpec{{Name: "value", Required: true}}, nil)
	snap := snapWith(entry)

	wf := &workflow.Workflow{Nodes: []workflow.Node{
		{ID: "z_node", Type: "unknown_type"},
		{ID: "a_node", Type: "needs_value"},
	}}

	issues := Validate(wf, snap)
	require.Len(t, issues, 2)
	assert.Equal(t, "a_node", issues[0].NodeID)
	assert.Equal(t, "z_node", issues[1].NodeID)
}
