// Package registry owns the authoritative mapping from node type name to
// its declarative spec and executor, discovered from a two-tier plugin
// directory tree and governed by an Active/Inactive/Deleted lifecycle.
package registry

// PortSpec describes one input or output port of a node type. A port
// carries a default if and only if Default is non-nil; there is no
// separate presence flag, so a YAML/JSON manifest's "default: null" and
// an absent "default:" key are indistinguishable, matching the "non-null
// default" wording of the port-default rule.
type PortSpec struct {
	Name     string      `json:"name" yaml:"name"`
	Type     string      `json:"type" yaml:"type"`
	Required bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default  interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// NodeSpec is the declarative description of a registered node type.
type NodeSpec struct {
	Type        string     `json:"type" yaml:"type"`
	Label       string     `json:"label" yaml:"label"`
	Category    string     `json:"category" yaml:"category"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Doc         string     `json:"doc,omitempty" yaml:"doc,omitempty"`
	PortsIn     []PortSpec `json:"ports_in" yaml:"ports_in"`
	PortsOut    []PortSpec `json:"ports_out" yaml:"ports_out"`
}

// RunFunc is the shape a Go plugin exports for a node's domain logic: it
// receives params and positionally-ordered inputs (aligned with
// NodeSpec.PortsIn) and returns positionally-ordered outputs (aligned with
// NodeSpec.PortsOut). Because the return type is a slice, not a map, the
// "a returned mapping is forbidden" rule from the module contract is
// enforced structurally by the Go type system rather than at runtime.
type RunFunc func(params map[string]interface{}, inputs []interface{}) ([]interface{}, error)

// ExecuteFunc is the uniform shape the executor invokes: params plus
// named inputs in, named outputs out. Entry.Execute is always in this
// shape; RunFunc is adapted into it once, at registration time.
type ExecuteFunc func(params map[string]interface{}, inputs map[string]interface{}) (map[string]interface{}, error)

// Entry is what the registry stores per node type: its spec, its wrapped
// executor (nil for a container-only type such as the built-in loop
// constructs), and the id of the plugin that provided it.
type Entry struct {
	Spec     NodeSpec
	Execute  ExecuteFunc
	PluginID string
}

// Hooks are the optional lifecycle callbacks a plugin may provide.
type Hooks struct {
	OnActivate   func() error
	OnDeactivate func() error
	OnUninstall  func() error
}

// ExportedNodes is what a loaded plugin module yields: its node specs
// (each optionally paired with a Run implementation) and its hooks.
type ExportedNodes struct {
	Nodes []ExportedNode
	Hooks Hooks
}

// ExportedNode pairs a NodeSpec with its optional Run implementation. A
// nil Run means the type is container-only (meaningful only to the
// executor's control logic, e.g. a loop construct supplied by a plugin
// rather than built in).
type ExportedNode struct {
	Spec NodeSpec
	Run  RunFunc
}

// wrapRun adapts a plugin's RunFunc into the uniform ExecuteFunc the
// executor expects, applying the priority-ordered argument gathering and
// the tuple/non-tuple return convention from the plugin module contract.
func wrapRun(spec NodeSpec, run RunFunc) ExecuteFunc {
	if run == nil {
		return nil
	}
	return func(params map[string]interface{}, inputs map[string]interface{}) (map[string]interface{}, error) {
		positional := make([]interface{}, len(spec.PortsIn))
		for i, port := range spec.PortsIn {
			if v, ok := inputs[port.Name]; ok {
				positional[i] = v
				continue
			}
			if v, ok := params[port.Name]; ok {
				positional[i] = v
				continue
			}
			if port.Default != nil {
				positional[i] = port.Default
				continue
			}
			positional[i] = nil
		}

		out, err := run(params, positional)
		if err != nil {
			return nil, err
		}

		outputs := make(map[string]interface{}, len(spec.PortsOut))
		if len(spec.PortsOut) == 1 && len(out) != 1 {
			// A single declared output port tolerates a non-tuple-shaped
			// return of exactly one value.
			if len(out) == 0 {
				return outputs, nil
			}
			outputs[spec.PortsOut[0].Name] = out[0]
			return outputs, nil
		}
		for i, port := range spec.PortsOut {
			if i < len(out) {
				outputs[port.Name] = out[i]
			}
		}
		return outputs, nil
	}
}
