package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow/internal/registry"
	"github.com/edgeflow/edgeflow/internal/workflow"
)

func testOptions() Options {
	t0 := time.Unix(0, 0)
	return Options{Now: func() time.Time { return t0 }}
}

func drain(t *testing.T, exec *Execution) []Event {
	t.Helper()
	var events []Event
	for e := range exec.Events() {
		events = append(events, e)
	}
	return events
}

func constEntry(nodeType string, out string, value interface{}) registry.Entry {
	spec := registry.NodeSpec{Type: nodeType, PortsOut: []registry.PortSpec{{Name: out}}}
	return registry.Entry{Spec: spec, PluginID: "test/" + nodeType,
		Execute: func(params, inputs map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{out: value}, nil
		}}
}

func doubleEntry() registry.Entry {
	spec := registry.NodeSpec{Type: "double",
		PortsIn:  []registry.PortSpec{{Name: "value", Required: true}},
		PortsOut: []registry.PortSpec{{Name: "doubled"}}}
	return registry.Entry{Spec: spec, PluginID: "test/double",
		Execute: func(params, inputs map[string]interface{}) (map[string]interface{}, error) {
			v, _ := inputs["value"].(int)
			return map[string]interface{}{"doubled": v * 2}, nil
		}}
}

func collectEntry() registry.Entry {
	spec := registry.NodeSpec{Type: "collect",
		PortsIn:  []registry.PortSpec{{Name: "items", Required: true}},
		PortsOut: []registry.PortSpec{{Name: "count"}}}
	return registry.Entry{Spec: spec, PluginID: "test/collect",
		Execute: func(params, inputs map[string]interface{}) (map[string]interface{}, error) {
			switch v := inputs["items"].(type) {
			case []interface{}:
				return map[string]interface{}{"count": len(v)}, nil
			default:
				return map[string]interface{}{"count": 1}, nil
			}
		}}
}

func incrementEntry() registry.Entry {
	spec := registry.NodeSpec{Type: "increment",
		PortsIn:  []registry.PortSpec{{Name: "n", Required: true}},
		PortsOut: []registry.PortSpec{{Name: "n"}}}
	return registry.Entry{Spec: spec, PluginID: "test/increment",
		Execute: func(params, inputs map[string]interface{}) (map[string]interface{}, error) {
			n, _ := inputs["n"].(int)
			return map[string]interface{}{"n": n + 1}, nil
		}}
}

func TestExecuteLinearPipeline(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{constEntry("source", "value", 21), doubleEntry()})
	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "source"}, {ID: "b", Type: "double"}},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", SourcePort: "value", Target: "b", TargetPort: "value"}},
	}

	exec := Execute(context.Background(), wf, snap, testOptions())
	events := drain(t, exec)
	require.NotEmpty(t, events)

	res := exec.Results()
	assert.Empty(t, res.Errors)
	out, ok := res.outputsOf("b")
	require.True(t, ok)
	assert.Equal(t, 42, out["doubled"])
}

func TestExecuteMultiFanInStacking(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{
		constEntry("src1", "value", "x"), constEntry("src2", "value", "y"), collectEntry(),
	})
	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "src1"}, {ID: "b", Type: "src2"}, {ID: "c", Type: "collect"}},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "a", SourcePort: "value", Target: "c", TargetPort: "items"},
			{ID: "e2", Source: "b", SourcePort: "value", Target: "c", TargetPort: "items"},
		},
	}

	exec := Execute(context.Background(), wf, snap, testOptions())
	drain(t, exec)

	out, ok := exec.Results().outputsOf("c")
	require.True(t, ok)
	assert.Equal(t, 2, out["count"])
}

func TestExecuteSingleFanInUnwrapped(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{constEntry("src1", "value", "x"), collectEntry()})
	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "src1"}, {ID: "c", Type: "collect"}},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", SourcePort: "value", Target: "c", TargetPort: "items"}},
	}

	exec := Execute(context.Background(), wf, snap, testOptions())
	drain(t, exec)

	out, _ := exec.Results().outputsOf("c")
	assert.Equal(t, 1, out["count"]) // unwrapped scalar, not a stacked sequence
}

func TestExecuteInactivePluginHaltsDownstream(t *testing.T) {
	// "double" is declared by its manifest's Provides but not loaded, since
	// its plugin is inactive.
	snap := registry.NewTestSnapshotWithInactive(
		[]registry.Entry{constEntry("source", "value", 1)},
		map[string]string{"double": "test/double"},
	)

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "source"}, {ID: "b", Type: "double"}},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", SourcePort: "value", Target: "b", TargetPort: "value"}},
	}

	exec := Execute(context.Background(), wf, snap, testOptions())
	events := drain(t, exec)

	var sawInactive bool
	for _, e := range events {
		if e.Kind == EventNodeError && e.NodeID == "b" {
			sawInactive = true
			assert.Equal(t, ErrorKindInactive, e.ErrorKind)
		}
	}
	assert.True(t, sawInactive)

	_, ok := exec.Results().outputsOf("a")
	assert.True(t, ok, "upstream results remain observable")
	_, ok = exec.Results().outputsOf("b")
	assert.False(t, ok)
}

func TestExecuteContainerLoop(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{constEntry("start", "n", 0), incrementEntry(), constEntry("noop_sink", "n", nil)})

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{
			{ID: "start", Type: "start"},
			{ID: "g1", Type: "loop_group", Params: map[string]interface{}{"iterations": 3}},
			{ID: "inc", Type: "increment", ParentID: "g1"},
			{ID: "sink", Type: "noop_sink"},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "start", SourcePort: "n", Target: "g1", TargetPort: "n"},
			{ID: "e2", Source: "g1", SourcePort: "n", Target: "inc", TargetPort: "n"},
			{ID: "e3", Source: "inc", SourcePort: "n", Target: "g1", TargetPort: "n"},
			{ID: "e4", Source: "g1", SourcePort: "n", Target: "sink", TargetPort: "n"},
		},
	}

	exec := Execute(context.Background(), wf, snap, testOptions())
	events := drain(t, exec)

	var starts, completes int
	for _, e := range events {
		if e.NodeID == "g1" && e.Kind == EventNodeStart {
			starts++
		}
		if e.NodeID == "g1" && e.Kind == EventNodeComplete {
			completes++
		}
	}
	assert.Equal(t, 1, starts, "loop_group emits node_start once")
	assert.Equal(t, 1, completes, "loop_group emits node_complete once")

	out, ok := exec.Results().outputsOf("g1")
	require.True(t, ok)
	assert.Equal(t, 3, out["n"])
}

func TestExecutePairedLoop(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{constEntry("start", "in_1", 0), incrementEntryPositional()})

	wf := &workflow.Workflow{
		Nodes: []workflow.Node{
			{ID: "src", Type: "start"},
			{ID: "ls", Type: "loop_start", Params: map[string]interface{}{"iterations": 3}},
			{ID: "step", Type: "increment_pos"},
			{ID: "le", Type: "loop_end", Params: map[string]interface{}{"pair_id": "ls"}},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "src", SourcePort: "in_1", Target: "ls", TargetPort: "in_1"},
			{ID: "e2", Source: "ls", SourcePort: "out_1", Target: "step", TargetPort: "n"},
			{ID: "e3", Source: "step", SourcePort: "n", Target: "le", TargetPort: "in_1"},
		},
	}

	exec := Execute(context.Background(), wf, snap, testOptions())
	drain(t, exec)

	out, ok := exec.Results().outputsOf("le")
	require.True(t, ok)
	assert.Equal(t, 3, out["out_1"])
}

func incrementEntryPositional() registry.Entry {
	spec := registry.NodeSpec{Type: "increment_pos",
		PortsIn:  []registry.PortSpec{{Name: "n", Required: true}},
		PortsOut: []registry.PortSpec{{Name: "n"}}}
	return registry.Entry{Spec: spec, PluginID: "test/increment_pos",
		Execute: func(params, inputs map[string]interface{}) (map[string]interface{}, error) {
			n, _ := inputs["n"].(int)
			return map[string]interface{}{"n": n + 1}, nil
		}}
}

func TestExecuteMutedNodePassesThrough(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{constEntry("source", "value", 5), doubleEntry()})
	wf := &workflow.Workflow{
		Nodes: []workflow.Node{
			{ID: "a", Type: "source"},
			{ID: "b", Type: "double", Muted: true},
		},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", SourcePort: "value", Target: "b", TargetPort: "value"}},
	}

	exec := Execute(context.Background(), wf, snap, testOptions())
	drain(t, exec)

	out, ok := exec.Results().outputsOf("b")
	require.True(t, ok)
	// muted: only ports shared by name between in/out pass through; "double"
	// has no output port named "value", so the pass-through yields nothing.
	assert.NotContains(t, out, "doubled")
}

func TestExecuteUsesPortDefaultWhenUnfed(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{{
		Spec: registry.NodeSpec{Type: "greet",
			PortsIn:  []registry.PortSpec{{Name: "name", Default: "world"}},
			PortsOut: []registry.PortSpec{{Name: "greeting"}}},
		PluginID: "test/greet",
		Execute: func(params, inputs map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"greeting": "hello, " + inputs["name"].(string)}, nil
		},
	}})
	wf := &workflow.Workflow{Nodes: []workflow.Node{{ID: "g", Type: "greet"}}}

	exec := Execute(context.Background(), wf, snap, testOptions())
	drain(t, exec)

	out, ok := exec.Results().outputsOf("g")
	require.True(t, ok)
	assert.Equal(t, "hello, world", out["greeting"])
}

func TestSummarizeValue(t *testing.T) {
	assert.Equal(t, 42, summarizeValue(42))
	assert.Equal(t, "x", summarizeValue("x"))

	got := summarizeValue([]interface{}{1, 2, 3})
	assert.Equal(t, map[string]interface{}{"type": "array", "length": 3, "first_10": []interface{}{1, 2, 3}}, got)

	long := make([]interface{}, 15)
	for i := range long {
		long[i] = i
	}
	got = summarizeValue(long)
	m := got.(map[string]interface{})
	assert.Equal(t, "array", m["type"])
	assert.Equal(t, 15, m["length"])
	assert.Len(t, m["first_10"], 10)

	got = summarizeValue(func() {})
	m = got.(map[string]interface{})
	assert.Equal(t, "function", m["type"])
	assert.NotEmpty(t, m["name"])
}

func TestExecuteCancellation(t *testing.T) {
	snap := registry.NewTestSnapshot([]registry.Entry{constEntry("source", "value", 1), doubleEntry()})
	wf := &workflow.Workflow{
		Nodes: []workflow.Node{{ID: "a", Type: "source"}, {ID: "b", Type: "double"}},
		Edges: []workflow.Edge{{ID: "e1", Source: "a", SourcePort: "value", Target: "b", TargetPort: "value"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := Execute(ctx, wf, snap, testOptions())
	events := drain(t, exec)

	var sawCancelled bool
	for _, e := range events {
		if e.Kind == EventCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
	assert.True(t, exec.Results().Cancelled)
}
