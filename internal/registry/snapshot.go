package registry

// Snapshot is an immutable view of the registry taken at one instant,
// suitable for handing to the validator or the executor so that later
// registry mutations cannot perturb in-flight work.
type Snapshot struct {
	active   map[string]Entry
	inactive map[string]string // node type -> owning (inactive) plugin id
}

// NewTestSnapshot builds a Snapshot directly from a list of entries,
// bypassing discovery. Intended for tests in other packages that need a
// registry.Snapshot without standing up plugin files on disk.
func NewTestSnapshot(entries []Entry) Snapshot {
	return NewTestSnapshotWithInactive(entries, nil)
}

// NewTestSnapshotWithInactive is NewTestSnapshot plus a set of node types
// declared by currently-inactive plugins, for exercising the
// inactive-vs-unknown NodeUnavailable distinction in tests.
func NewTestSnapshotWithInactive(entries []Entry, inactiveTypes map[string]string) Snapshot {
	active := make(map[string]Entry, len(entries))
	for _, e := range entries {
		active[e.Spec.Type] = e
	}
	inactive := make(map[string]string, len(inactiveTypes))
	for t, pid := range inactiveTypes {
		inactive[t] = pid
	}
	return Snapshot{active: active, inactive: inactive}
}

// Lookup returns the active entry for a node type, if any.
func (s Snapshot) Lookup(nodeType string) (Entry, bool) {
	e, ok := s.active[nodeType]
	return e, ok
}

// Len returns the number of active node types.
func (s Snapshot) Len() int {
	return len(s.active)
}

// Types returns every active node type name.
func (s Snapshot) Types() []string {
	out := make([]string, 0, len(s.active))
	for t := range s.active {
		out = append(out, t)
	}
	return out
}

// Status reports whether a node type is known to the snapshot at all
// (active or declared by a currently-inactive plugin) and, if so, whether
// it is active. This lets callers distinguish NodeUnavailable's "inactive"
// reason from its "unknown" reason without loading anything.
func (s Snapshot) Status(nodeType string) (known bool, active bool, pluginID string) {
	if e, ok := s.active[nodeType]; ok {
		return true, true, e.PluginID
	}
	if pid, ok := s.inactive[nodeType]; ok {
		return true, false, pid
	}
	return false, false, ""
}
