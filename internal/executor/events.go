package executor

import (
	"reflect"
	"runtime"
	"strconv"
	"time"
)

// EventKind discriminates the Event union.
type EventKind string

const (
	EventStart        EventKind = "start"
	EventNodeStart     EventKind = "node_start"
	EventNodeComplete  EventKind = "node_complete"
	EventNodeError     EventKind = "node_error"
	EventNodeBreakpoint EventKind = "node_breakpoint"
	EventLog           EventKind = "log"
	EventComplete      EventKind = "complete"
	EventCancelled     EventKind = "cancelled"
)

// NodeErrorKind distinguishes NodeUnavailable's two reasons from an
// ordinary runtime failure.
type NodeErrorKind string

const (
	ErrorKindInactive NodeErrorKind = "inactive"
	ErrorKindUnknown  NodeErrorKind = "unknown"
	ErrorKindRuntime  NodeErrorKind = "runtime"
)

// EventTime behaves like time.Time everywhere in the executor but
// marshals on the wire as seconds since epoch, float, per the documented
// event format.
type EventTime time.Time

func (t EventTime) MarshalJSON() ([]byte, error) {
	secs := float64(time.Time(t).UnixNano()) / 1e9
	return []byte(strconv.FormatFloat(secs, 'f', -1, 64)), nil
}

func (t EventTime) Time() time.Time { return time.Time(t) }

// Event is one entry in the lazily-produced execution event stream. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind      EventKind `json:"event"`
	Timestamp EventTime `json:"timestamp"`

	TotalNodes int `json:"total_nodes,omitempty"`

	NodeID    string `json:"node_id,omitempty"`
	NodeType  string `json:"node_type,omitempty"`
	LoopIndex *int   `json:"loop_index,omitempty"`

	OutputsSummary map[string]interface{} `json:"outputs_summary,omitempty"`
	DurationMs     int64                  `json:"duration_ms,omitempty"`

	Error      string        `json:"error,omitempty"`
	StackTrace string        `json:"stack_trace,omitempty"`
	ErrorKind  NodeErrorKind `json:"kind,omitempty"`

	LogLevel   string `json:"level,omitempty"`
	LogMessage string `json:"message,omitempty"`

	TotalMs int64 `json:"total_ms,omitempty"`
}

func withLoopIndex(i int) *int {
	v := i
	return &v
}

// summarize reduces a node's raw output values to the value envelope the
// event stream carries: arrays shrink to their length plus the first 10
// elements, functions reduce to their name, and everything else passes
// through unchanged. The executor never otherwise inspects a value.
func summarize(outputs map[string]interface{}) map[string]interface{} {
	if outputs == nil {
		return nil
	}
	summarized := make(map[string]interface{}, len(outputs))
	for k, v := range outputs {
		summarized[k] = summarizeValue(v)
	}
	return summarized
}

func summarizeValue(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		length := rv.Len()
		n := length
		if n > 10 {
			n = 10
		}
		first10 := make([]interface{}, n)
		for i := 0; i < n; i++ {
			first10[i] = rv.Index(i).Interface()
		}
		return map[string]interface{}{"type": "array", "length": length, "first_10": first10}
	case reflect.Func:
		return map[string]interface{}{"type": "function", "name": runtime.FuncForPC(rv.Pointer()).Name()}
	default:
		return v
	}
}
