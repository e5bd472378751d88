package registry

import (
	"fmt"
	"os"
	"plugin"

	"golang.org/x/crypto/blake2b"
)

// ModuleLoader loads a compiled plugin module from disk and returns its
// exported nodes and hooks. The default implementation uses the standard
// library's plugin.Open — the same-process, symbol-level dynamic loading
// the module contract in spec.md requires; see DESIGN.md for why no
// third-party library in the retrieval pack fits this role. Tests inject a
// fake loader so discovery logic can be exercised without a real .so.
type ModuleLoader interface {
	Load(soPath string) (ExportedNodes, error)
}

// GoPluginLoader loads plugins built with `go build -buildmode=plugin`.
// The module is expected to export:
//
//	var NodeInfos []registry.ExportedNode
//	var PluginHooks registry.Hooks // optional
type GoPluginLoader struct{}

// Load opens soPath and reads its exported symbols.
func (GoPluginLoader) Load(soPath string) (ExportedNodes, error) {
	p, err := plugin.Open(soPath)
	if err != nil {
		return ExportedNodes{}, fmt.Errorf("open plugin %s: %w", soPath, err)
	}

	sym, err := p.Lookup("NodeInfos")
	if err != nil {
		return ExportedNodes{}, fmt.Errorf("plugin %s does not export NodeInfos: %w", soPath, err)
	}
	nodes, ok := sym.(*[]ExportedNode)
	if !ok {
		return ExportedNodes{}, fmt.Errorf("plugin %s: NodeInfos has wrong type %T", soPath, sym)
	}

	var hooks Hooks
	if hsym, err := p.Lookup("PluginHooks"); err == nil {
		if h, ok := hsym.(*Hooks); ok {
			hooks = *h
		}
	}

	return ExportedNodes{Nodes: *nodes, Hooks: hooks}, nil
}

// fingerprint returns a blake2b digest of a plugin .so file's contents, used
// to skip re-opening an unchanged plugin on reload().
func fingerprint(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(data)
	return sum[:], nil
}
