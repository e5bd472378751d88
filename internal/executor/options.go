package executor

import "time"

// Options configures one Execute call.
type Options struct {
	// Breakpoints names node ids that should pause before running.
	Breakpoints map[string]bool

	// Resume, if set, is called when a node hits a breakpoint; the
	// returned channel is waited on before the node runs. A nil Resume
	// makes a breakpoint terminal: the node never proceeds and execution
	// halts as if cancelled.
	Resume func(nodeID string) <-chan struct{}

	// Now returns the current time; defaults to time.Now. Tests can
	// inject a deterministic clock.
	Now func() time.Time

	// Logger, if set, is called with every log Event produced during the
	// run (currently only registry/scheduler-level log lines forwarded by
	// the caller; node plugins do not yet receive an injected logger). A
	// nil Logger drops them.
	Logger func(Event)
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) isBreakpoint(nodeID string) bool {
	return o.Breakpoints != nil && o.Breakpoints[nodeID]
}
