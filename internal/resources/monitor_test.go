package resources

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorUpdateAndGetStats(t *testing.T) {
	m := NewMonitor("")
	m.Update()

	stats := m.GetStats()
	assert.Greater(t, stats.CPUCores, 0)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestMonitorStartSamplesUntilCancelled(t *testing.T) {
	m := NewMonitor("")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	m.Start(ctx, 10*time.Millisecond)

	stats := m.GetStats()
	assert.False(t, stats.Timestamp.IsZero())
}
