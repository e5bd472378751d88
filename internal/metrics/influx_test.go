package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow/internal/config"
)

func TestNewSinkDisabledReturnsNil(t *testing.T) {
	sink, err := NewSink(config.MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestNilSinkRecordIsNoop(t *testing.T) {
	var sink *Sink
	assert.NotPanics(t, func() {
		sink.Close()
	})
}
