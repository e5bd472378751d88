package executor

import "github.com/edgeflow/edgeflow/internal/registry"

// builtinLoopTypes are recognized directly by the executor; their ports
// are determined dynamically by their edges (positional in_k/out_k or
// init_*/feedback_*/loop_*/done_* banks) rather than a fixed NodeSpec.
var builtinLoopTypes = map[string]bool{
	"loop_group": true,
	"loop_start": true,
	"loop_end":   true,
	"loop_node":  true,
}

func lookupSpec(nodeType string, snap registry.Snapshot) (registry.NodeSpec, bool) {
	if e, ok := snap.Lookup(nodeType); ok {
		return e.Spec, true
	}
	if builtinLoopTypes[nodeType] {
		return registry.NodeSpec{Type: nodeType, Label: nodeType}, true
	}
	return registry.NodeSpec{}, false
}
