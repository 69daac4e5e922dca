package kafkaclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/metric"
)

const (
	// DefaultGroup is the consumer group used when a subscription names none.
	DefaultGroup = "datacollector"

	batchTimeout = 100 * time.Millisecond
	maxBytes     = 10e6
)

// ErrClosed is returned after Close.
var ErrClosed = stderrors.New("kafka client closed")

// Client publishes with one shared writer and consumes with one reader per
// subscription. It implements broker.Broker and broker.Durable; Kafka has no
// request/reply.
type Client struct {
	brokers        []string
	label          string
	logger         *slog.Logger
	metrics        *metric.Metrics
	handlerTimeout time.Duration
	writer         *kafka.Writer

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics reports connection status to registry. A nil registry
// disables metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Client) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// WithHandlerTimeout bounds the context handed to each message handler.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handlerTimeout = d
		}
	}
}

// NewClient creates a client for brokers. No connection is made until the
// first publish or subscription.
func NewClient(brokers []string, label string, opts ...Option) *Client {
	c := &Client{
		brokers:        brokers,
		label:          label,
		logger:         slog.Default(),
		handlerTimeout: 30 * time.Second,
		subs:           make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return c
}

// Brokers returns the bootstrap broker addresses.
func (c *Client) Brokers() []string {
	return c.brokers
}

// Ping dials the first reachable broker.
func (c *Client) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range c.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		if c.metrics != nil {
			c.metrics.RecordBrokerStatus(c.label, true)
		}
		return nil
	}
	if c.metrics != nil {
		c.metrics.RecordBrokerStatus(c.label, false)
	}
	return errors.WrapTransient(lastErr, "Client", "Ping", "dial brokers")
}

// Publish writes body to the topic named route.
func (c *Client) Publish(ctx context.Context, route string, body []byte) error {
	if c.closed.Load() {
		return errors.WrapFatal(ErrClosed, "Client", "Publish", "closed check")
	}
	err := c.writer.WriteMessages(ctx, kafka.Message{
		Topic: route,
		Value: body,
		Time:  time.Now(),
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "write "+route)
	}
	return nil
}

// Subscribe consumes topic in the default consumer group.
func (c *Client) Subscribe(ctx context.Context, topic string, h broker.Handler) (broker.Subscription, error) {
	return c.SubscribeDurable(ctx, topic, DefaultGroup, h)
}

// SubscribeDurable consumes topic as member of group. Offsets are committed
// after the handler returns.
func (c *Client) SubscribeDurable(ctx context.Context, topic, group string, h broker.Handler) (broker.Subscription, error) {
	if c.closed.Load() {
		return nil, errors.WrapFatal(ErrClosed, "Client", "Subscribe", "closed check")
	}
	if group == "" {
		group = DefaultGroup
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: maxBytes,
	})

	loopCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{client: c, reader: reader, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go c.consume(loopCtx, sub, topic, group, h)
	return sub, nil
}

func (c *Client) consume(ctx context.Context, sub *subscription, topic, group string, h broker.Handler) {
	defer close(sub.done)
	logger := c.logger.With("topic", topic, "group", group)

	for {
		msg, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				return
			}
			logger.Error("kafka fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msgCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
		h(msgCtx, msg.Value)
		cancel()

		if err := sub.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			logger.Warn("kafka commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close stops every reader and flushes the writer.
func (c *Client) Close(_ context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.writer.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "Client", "Close", "close writer"))
	}
	if c.metrics != nil {
		c.metrics.RecordBrokerStatus(c.label, false)
	}
	return stderrors.Join(errs...)
}

type subscription struct {
	client *Client
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe stops the reader after the in-flight message.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()

		s.cancel()
		<-s.done
		err = s.reader.Close()
	})
	return err
}

// BrokerList splits a host list such as "k1:9092,k2:9092". Hosts without a
// port get 9092.
func BrokerList(hosts ...string) []string {
	var out []string
	for _, h := range hosts {
		for _, addr := range strings.Split(h, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			if !strings.Contains(addr, ":") {
				addr += ":9092"
			}
			out = append(out, addr)
		}
	}
	return out
}
