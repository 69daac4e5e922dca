package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/options"
)

// Config selects the queue to consume.
type Config struct {
	Endpoint broker.Endpoint
	Channel  string
	// Durable is the kafka consumer group or the NATS JetStream stream.
	// Empty means a plain subscription.
	Durable string
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Endpoint.Scheme == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "queue", "Validate", "scheme is required")
	}
	if c.Channel == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: channel", errors.ErrMissingConfig), "queue", "Validate", "channel is required")
	}
	return nil
}

// Consumer dispatches every message of one queue. Bodies holding JSON are
// decoded, anything else is passed on as a string.
type Consumer struct {
	*component.Lifecycle

	cfg  Config
	pool *broker.Pool

	mu     sync.Mutex
	broker broker.Broker
	sub    broker.Subscription
}

// NewConsumer creates an idle consumer. The broker is dialed by Run.
func NewConsumer(cfg Config, deps component.Dependencies) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Brokers == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: broker pool", errors.ErrMissingConfig), "queue", "NewConsumer", "dependency validation")
	}

	c := &Consumer{cfg: cfg, pool: deps.Brokers}
	c.Lifecycle = component.NewLifecycle(fmt.Sprintf("queue:%s/%s", cfg.Endpoint.Label(), cfg.Channel), deps, component.Hooks{
		Start: c.start,
		Stop:  c.stop,
	})
	return c, nil
}

// Channel returns the consumed queue name.
func (c *Consumer) Channel() string {
	return c.cfg.Channel
}

func (c *Consumer) start(ctx context.Context) error {
	b, err := c.pool.GetEndpoint(ctx, c.cfg.Endpoint)
	if err != nil {
		return err
	}

	handler := func(ctx context.Context, body []byte) {
		c.HandleMessage(ctx, DecodeBody(body))
	}

	var sub broker.Subscription
	if c.cfg.Durable != "" {
		d, ok := b.(broker.Durable)
		if !ok {
			return errors.UnsupportedOperation(c.Name(), "durable subscription on "+c.cfg.Endpoint.Scheme)
		}
		sub, err = d.SubscribeDurable(ctx, c.cfg.Channel, c.cfg.Durable, handler)
	} else {
		sub, err = b.Subscribe(ctx, c.cfg.Channel, handler)
	}
	if err != nil {
		return errors.Wrap(err, "queue", "start", "subscribe "+c.cfg.Channel)
	}

	c.mu.Lock()
	c.broker, c.sub = b, sub
	c.mu.Unlock()
	c.Logger().Info("consuming", "channel", c.cfg.Channel, "durable", c.cfg.Durable)
	return nil
}

func (c *Consumer) stop() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Send publishes msg on route, or on the consumed channel when route is
// empty. Strings and bytes are sent as is, other values as JSON. The broker
// is dialed when the consumer has not run yet.
func (c *Consumer) Send(ctx context.Context, route string, msg any) error {
	if route == "" {
		route = c.cfg.Channel
	}
	body, err := EncodeBody(msg)
	if err != nil {
		return errors.WrapInvalid(err, "queue", "Send", "encode message")
	}

	c.mu.Lock()
	b := c.broker
	c.mu.Unlock()
	if b == nil {
		if b, err = c.pool.GetEndpoint(ctx, c.cfg.Endpoint); err != nil {
			return err
		}
	}
	return b.Publish(ctx, route, body)
}

// DecodeBody returns the JSON value of body, or body as a string when it is
// not JSON.
func DecodeBody(body []byte) any {
	v, err := input.DecodeJSON(body)
	if err != nil {
		return string(body)
	}
	return v
}

// EncodeBody serializes msg for publishing.
func EncodeBody(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	case json.Marshaler:
		return m.MarshalJSON()
	}
	return json.Marshal(msg)
}

// ConfigFromURI reads a queue config from uri and opts. The queue name is
// the channel option. Kafka also reads group, NATS reads stream.
func ConfigFromURI(u *url.URL, opts map[string]any) Config {
	opts = options.MergeQuery(opts, u.Query())
	cfg := Config{
		Endpoint: broker.ParseEndpoint(u, 0),
		Channel:  options.GetString(opts, "channel", ""),
	}
	switch cfg.Endpoint.Scheme {
	case "kafka":
		cfg.Durable = options.GetString(opts, "group", "")
	case "nats":
		cfg.Durable = options.GetString(opts, "stream", "")
	}
	return cfg
}

// NewSource builds a consumer from an amqp://, nats:// or kafka:// URI.
func NewSource(u *url.URL, opts map[string]any, deps component.Dependencies) (component.Source, error) {
	return NewConsumer(ConfigFromURI(u, opts), deps)
}

// Register registers the queue consumer source with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:          "queue",
		Type:          component.TypeSource,
		Schemes:       []string{"amqp", "nats", "kafka"},
		Description:   "Queue consumer source for AMQP, NATS and Kafka",
		Version:       "1.0.0",
		SourceFactory: NewSource,
	})
}
