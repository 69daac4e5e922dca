package kafkaclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/errors"
)

var (
	_ broker.Broker  = (*Client)(nil)
	_ broker.Durable = (*Client)(nil)
)

func TestBrokerList(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9093", "k3:9092"}, BrokerList("k1, k2:9093", "k3"))
	assert.Empty(t, BrokerList("", " "))
}

func TestClosedClientRejectsWork(t *testing.T) {
	c := NewClient([]string{"localhost:9092"}, "kafka://localhost:9092")
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	err := c.Publish(context.Background(), "topic", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, errors.IsFatal(err))

	_, err = c.Subscribe(context.Background(), "topic", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}
