// Package metrics feeds per-node execution timings into InfluxDB so a
// gateway operator can chart duration and failure rate over time without
// scraping the event stream themselves.
package metrics

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/edgeflow/edgeflow/internal/config"
	"github.com/edgeflow/edgeflow/internal/executor"
)

// Sink writes one point per node_complete/node_error event to a bucket.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewSink connects to cfg.URL and returns a Sink ready for Record calls.
// Returns (nil, nil) if metrics are disabled in configuration, so callers
// can treat a nil Sink as "do nothing" without a type switch.
func NewSink(cfg config.MetricsConfig) (*Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)

	return &Sink{client: client, writeAPI: writeAPI, bucket: cfg.Bucket}, nil
}

// Record writes one point for a node_complete or node_error event; other
// event kinds are ignored. workflowID tags the point so queries can group
// by workflow.
func (s *Sink) Record(ctx context.Context, workflowID string, e executor.Event) error {
	if s == nil {
		return nil
	}
	if e.Kind != executor.EventNodeComplete && e.Kind != executor.EventNodeError {
		return nil
	}

	status := "completed"
	if e.Kind == executor.EventNodeError {
		status = "error"
	}

	tags := map[string]string{
		"workflow_id": workflowID,
		"node_type":   e.NodeType,
		"status":      status,
	}
	fields := map[string]interface{}{
		"node_id":     e.NodeID,
		"duration_ms": e.DurationMs,
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}

	point := write.NewPoint("node_execution", tags, fields, e.Timestamp.Time())
	return s.writeAPI.WritePoint(ctx, point)
}

// Consume drains every event from a run and records the ones that matter,
// returning once the channel closes. Intended to run in its own
// goroutine alongside an executor.Execute call.
func (s *Sink) Consume(ctx context.Context, workflowID string, events <-chan executor.Event) {
	if s == nil {
		for range events {
		}
		return
	}
	for e := range events {
		if err := s.Record(ctx, workflowID, e); err != nil {
			continue
		}
	}
}

// Close flushes and releases the underlying client.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.client.Close()
}
