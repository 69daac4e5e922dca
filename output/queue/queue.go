// Package queue provides the queue sink. Each published value is encoded as
// JSON and published on the route named by the channel option:
//
//	amqp://rabbit:5672?channel=records
//	nats://localhost:4222?channel=records
//	kafka://broker:9092?channel=records
package queue

import (
	"context"
	"fmt"
	"net/url"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	inqueue "github.com/c360/datacollector/input/queue"
	"github.com/c360/datacollector/output"
)

// Output publishes to one route of a pooled broker connection.
type Output struct {
	output.Base
	endpoint broker.Endpoint
	channel  string
	pool     *broker.Pool
}

// NewOutput creates a queue sink. The broker is dialed on first publish.
func NewOutput(endpoint broker.Endpoint, channel string, deps component.Dependencies) (*Output, error) {
	if channel == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: channel", errors.ErrMissingConfig), "queue", "NewOutput", "channel is required")
	}
	if deps.Brokers == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: broker pool", errors.ErrMissingConfig), "queue", "NewOutput", "dependency validation")
	}
	return &Output{
		Base:     output.NewBase(fmt.Sprintf("queue:%s/%s", endpoint.Label(), channel), deps),
		endpoint: endpoint,
		channel:  channel,
		pool:     deps.Brokers,
	}, nil
}

// Publish sends the JSON form of v and returns it as text.
func (q *Output) Publish(ctx context.Context, v any) (any, error) {
	body, err := output.Encode(v)
	if err != nil {
		return nil, q.Observe(err)
	}
	b, err := q.pool.GetEndpoint(ctx, q.endpoint)
	if err != nil {
		return nil, q.Observe(err)
	}
	if err := b.Publish(ctx, q.channel, body); err != nil {
		return nil, q.Observe(errors.Wrap(err, "queue", "Publish", "publish to "+q.channel))
	}
	return string(body), q.Observe(nil)
}

// Close is a no-op: the connection belongs to the pool.
func (q *Output) Close() error {
	return nil
}

// NewSink builds a queue sink from an amqp://, nats:// or kafka:// URI.
func NewSink(_ context.Context, u *url.URL, opts map[string]any, deps component.Dependencies) (component.Sink, error) {
	cfg := inqueue.ConfigFromURI(u, opts)
	return NewOutput(cfg.Endpoint, cfg.Channel, deps)
}

// Register registers the queue sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "queue-sink",
		Type:        component.TypeSink,
		Schemes:     []string{"amqp", "nats", "kafka"},
		Description: "Queue sink publishing JSON to AMQP, NATS or Kafka",
		Version:     "1.0.0",
		SinkFactory: NewSink,
	})
}
