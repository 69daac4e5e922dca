package componentregistry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/broker/brokertest"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/metric"
)

func newMemoryPool(m *brokertest.Memory) *broker.Pool {
	return broker.NewPool(broker.WithDialer("amqp", m.Dialer()))
}

func TestRegister_AllComponents(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	for _, scheme := range []string{"file", "amqp", "nats", "kafka", "rpc+amqp", "rpc+nats"} {
		assert.True(t, registry.HasSource(scheme), "source for %s", scheme)
	}
	for _, scheme := range []string{"file", "http", "https", "amqp", "nats", "kafka", "rpc+amqp", "rpc+nats", "s3"} {
		assert.True(t, registry.HasSink(scheme), "sink for %s", scheme)
	}
	assert.False(t, registry.HasSource("s3"))

	names := make([]string, 0)
	for _, info := range registry.ListAvailable() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"dir", "file", "httppost", "queue", "queue-sink", "rpc", "rpc-sink", "s3"}, names)
}

func TestRegister_NilRegistry(t *testing.T) {
	err := Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestRegister_Twice(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	err := Register(registry)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestDefault_IsShared(t *testing.T) {
	first, err := Default()
	require.NoError(t, err)
	second, err := Default()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestOpenSource_Directory(t *testing.T) {
	dirPath := t.TempDir()

	src, err := OpenSource("file://"+dirPath, map[string]any{"pattern": "*.json"}, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, component.StateIdle, src.State())
	assert.Equal(t, "dir:"+dirPath, src.Name())
	require.NoError(t, src.Stop())
}

func TestOpenSource_QueueUsesInjectedPool(t *testing.T) {
	mem := brokertest.NewMemory()
	pool := newMemoryPool(mem)
	defer pool.Close(context.Background())

	src, err := OpenSource("amqp://localhost?channel=jobs", nil, component.Dependencies{Brokers: pool})
	require.NoError(t, err)

	require.NoError(t, src.Run(context.Background(), false, nil))
	defer src.Stop()
	assert.Equal(t, 1, mem.Subscribers("jobs"))
}

func TestOpenSource_Unsupported(t *testing.T) {
	_, err := OpenSource("ftp://example.com/data", nil, component.Dependencies{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedScheme)
}

func TestOpenSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	sink, err := OpenSink(context.Background(), "file://"+path, nil, component.Dependencies{})
	require.NoError(t, err)
	defer sink.Close()

	text, err := sink.Publish(context.Background(), map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Contains(t, text, `"id": 1`)
	assert.FileExists(t, path)
}

func TestNewBrokerPool_Schemes(t *testing.T) {
	pool := NewBrokerPool(nil, metric.NewMetricsRegistry())
	defer pool.Close(context.Background())

	assert.Equal(t, []string{"amqp", "kafka", "nats"}, pool.Schemes())
	assert.Zero(t, pool.Len())
}
