package executor

import "sync"

// Results accumulates the final state of a run: every node's outputs, any
// errors, and whether the run was cancelled. It is safe to read once the
// Execution's event channel has been drained, and safe to read
// concurrently with in-flight writes if callers want a live peek.
type Results struct {
	mu          sync.Mutex
	NodeOutputs map[string]map[string]interface{}
	Errors      map[string]string
	Cancelled   bool
	TotalMs     int64
}

func newResults() *Results {
	return &Results{
		NodeOutputs: map[string]map[string]interface{}{},
		Errors:      map[string]string{},
	}
}

func (r *Results) setOutputs(nodeID string, outputs map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NodeOutputs[nodeID] = outputs
}

func (r *Results) setError(nodeID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors[nodeID] = message
}

func (r *Results) outputsOf(nodeID string) (map[string]interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.NodeOutputs[nodeID]
	return o, ok
}

// Execution is the handle returned by Execute: a lazy event stream and the
// Results it will have populated once that stream is exhausted.
type Execution struct {
	events  chan Event
	results *Results
}

// Events returns the lazily-produced event channel. It closes when the
// run finishes, whether by completion, error, or cancellation.
func (e *Execution) Events() <-chan Event {
	return e.events
}

// Results returns the accumulator the run writes into. Its contents are
// only complete once Events() has been fully drained.
func (e *Execution) Results() *Results {
	return e.results
}
