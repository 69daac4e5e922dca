package amqpclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/metric"
)

// DirectReplyTo is the RabbitMQ pseudo-queue used for RPC replies.
const DirectReplyTo = "amq.rabbitmq.reply-to"

// ErrClosed is returned after Close or when the server closed the connection.
var ErrClosed = stderrors.New("amqp connection closed")

// Client is one AMQP connection. Publishing shares a channel; every
// subscription and responder gets its own. It implements broker.RPCBroker.
type Client struct {
	conn           *amqp.Connection
	label          string
	logger         *slog.Logger
	metrics        *metric.Metrics
	handlerTimeout time.Duration
	durable        bool

	pubMu sync.Mutex
	pub   *amqp.Channel

	rpcMu   sync.Mutex
	rpc     *amqp.Channel
	pending map[string]chan []byte

	subsMu sync.Mutex
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

// WithDurableQueues declares queues durable. Defaults to true.
func WithDurableQueues(durable bool) Option {
	return func(c *Client) {
		c.durable = durable
	}
}

func newClient(conn *amqp.Connection, label string, opts ...Option) *Client {
	c := &Client{
		conn:           conn,
		label:          label,
		logger:         slog.Default(),
		handlerTimeout: 30 * time.Second,
		durable:        true,
		pending:        make(map[string]chan []byte),
		subs:           make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials url and returns a connected client.
func Connect(ctx context.Context, url, label string, opts ...Option) (*Client, error) {
	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(10 * time.Second),
		})
		done <- result{conn, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				_ = late.conn.Close()
			}
		}()
		return nil, errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}
	if r.err != nil {
		var amqpErr *amqp.Error
		if stderrors.As(r.err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
			return nil, errors.WrapInvalid(r.err, "Client", "Connect", "authenticate")
		}
		return nil, errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
	}

	c := newClient(r.conn, label, opts...)
	c.watch()
	c.setConnected(true)
	c.logger.Info("connected to AMQP", "broker", label)
	return c, nil
}

func (c *Client) watch() {
	notify := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		err, ok := <-notify
		c.setConnected(false)
		if ok && err != nil && !c.closed.Load() {
			c.logger.Error("AMQP connection lost", "error", err)
		}
		c.failPending()
	}()
}

func (c *Client) setConnected(up bool) {
	if c.metrics != nil {
		c.metrics.RecordBrokerStatus(c.label, up)
	}
}

// IsHealthy reports whether the connection is open.
func (c *Client) IsHealthy() bool {
	return !c.closed.Load() && !c.conn.IsClosed()
}

func (c *Client) check(method string) error {
	if !c.IsHealthy() {
		return errors.WrapTransient(ErrClosed, "Client", method, "connection check")
	}
	return nil
}

func (c *Client) declareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, c.durable, false, false, false, nil)
	return err
}

// Publish sends body to the queue named route through the default exchange.
func (c *Client) Publish(ctx context.Context, route string, body []byte) error {
	if err := c.check("Publish"); err != nil {
		return err
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.pub == nil || c.pub.IsClosed() {
		ch, err := c.conn.Channel()
		if err != nil {
			return errors.WrapTransient(err, "Client", "Publish", "open channel")
		}
		c.pub = ch
	}
	if err := c.declareQueue(c.pub, route); err != nil {
		return errors.Wrap(err, "Client", "Publish", "declare queue "+route)
	}

	err := c.pub.PublishWithContext(ctx, "", route, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+route)
	}
	return nil
}

// Subscribe consumes queue, acknowledging each message after the handler
// returns.
func (c *Client) Subscribe(ctx context.Context, queue string, h broker.Handler) (broker.Subscription, error) {
	if err := c.check("Subscribe"); err != nil {
		return nil, err
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "open channel")
	}
	if err := c.declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "Client", "Subscribe", "declare queue "+queue)
	}
	return c.consume(ctx, ch, queue, func(ctx context.Context, d amqp.Delivery) {
		h(ctx, d.Body)
	})
}

// Respond declares a direct exchange, binds queue to it and replies to each
// request through its reply-to address.
func (c *Client) Respond(ctx context.Context, exchange, queue string, h broker.ReplyHandler) (broker.Subscription, error) {
	if err := c.check("Respond"); err != nil {
		return nil, err
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Respond", "open channel")
	}
	if err := c.bind(ch, exchange, queue); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "Client", "Respond", "bind "+exchange+"/"+queue)
	}

	return c.consume(ctx, ch, queue, func(ctx context.Context, d amqp.Delivery) {
		reply := h(ctx, d.Body)
		if d.ReplyTo == "" {
			return
		}
		err := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Timestamp:     time.Now(),
			Body:          reply,
		})
		if err != nil {
			c.logger.Error("reply failed", "exchange", exchange, "queue", queue, "error", err)
		}
	})
}

func (c *Client) bind(ch *amqp.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, c.durable, false, false, false, nil); err != nil {
		return err
	}
	if err := c.declareQueue(ch, queue); err != nil {
		return err
	}
	return ch.QueueBind(queue, queue, exchange, false, nil)
}

func (c *Client) consume(ctx context.Context, ch *amqp.Channel, queue string, fn func(context.Context, amqp.Delivery)) (broker.Subscription, error) {
	tag := "datacollector-" + uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "Client", "Subscribe", "consume "+queue)
	}

	sub := &subscription{client: c, ch: ch, tag: tag, done: make(chan struct{})}
	c.subsMu.Lock()
	c.subs[sub] = struct{}{}
	c.subsMu.Unlock()

	go func() {
		defer close(sub.done)
		for d := range deliveries {
			msgCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
			fn(msgCtx, d)
			cancel()
			if err := d.Ack(false); err != nil {
				c.logger.Warn("ack failed", "queue", queue, "error", err)
			}
		}
	}()
	return sub, nil
}

// Request publishes body to exchange with routing key queue and waits for
// the correlated reply on the direct reply-to queue.
func (c *Client) Request(ctx context.Context, exchange, queue string, body []byte) ([]byte, error) {
	if err := c.check("Request"); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	reply := make(chan []byte, 1)

	c.rpcMu.Lock()
	ch, err := c.rpcChannel()
	if err != nil {
		c.rpcMu.Unlock()
		return nil, errors.WrapTransient(err, "Client", "Request", "open reply channel")
	}
	c.pending[id] = reply
	err = ch.PublishWithContext(ctx, exchange, queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: id,
		ReplyTo:       DirectReplyTo,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		delete(c.pending, id)
	}
	c.rpcMu.Unlock()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "publish "+exchange+"/"+queue)
	}

	select {
	case data, ok := <-reply:
		if !ok {
			return nil, errors.WrapTransient(ErrClosed, "Client", "Request", "await reply")
		}
		return data, nil
	case <-ctx.Done():
		c.rpcMu.Lock()
		delete(c.pending, id)
		c.rpcMu.Unlock()
		return nil, errors.WrapTransient(ctx.Err(), "Client", "Request", "await reply")
	}
}

// rpcChannel must be called with rpcMu held. Direct reply-to requires the
// request to be published on the channel consuming the replies.
func (c *Client) rpcChannel() (*amqp.Channel, error) {
	if c.rpc != nil && !c.rpc.IsClosed() {
		return c.rpc, nil
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	replies, err := ch.Consume(DirectReplyTo, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	c.rpc = ch
	go func() {
		for d := range replies {
			c.deliver(d.CorrelationId, d.Body)
		}
	}()
	return ch, nil
}

func (c *Client) deliver(id string, body []byte) {
	c.rpcMu.Lock()
	reply, ok := c.pending[id]
	delete(c.pending, id)
	c.rpcMu.Unlock()
	if !ok {
		c.logger.Debug("dropping uncorrelated reply", "correlation_id", id)
		return
	}
	reply <- body
}

func (c *Client) failPending() {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}

// Close cancels every consumer and closes the connection.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.subsMu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subsMu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- c.conn.Close() }()
	select {
	case err := <-done:
		if err != nil && !stderrors.Is(err, amqp.ErrClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "close connection"))
		}
	case <-ctx.Done():
		errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "close connection"))
	}

	c.setConnected(false)
	c.logger.Info("AMQP connection closed", "broker", c.label)
	if len(errs) > 0 {
		return fmt.Errorf("amqp close: %w", stderrors.Join(errs...))
	}
	return nil
}

type subscription struct {
	client *Client
	ch     *amqp.Channel
	tag    string
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe cancels the consumer and closes its channel. In-flight
// handlers finish first.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.client.subsMu.Lock()
		delete(s.client.subs, s)
		s.client.subsMu.Unlock()

		if cerr := s.ch.Cancel(s.tag, false); cerr != nil && !stderrors.Is(cerr, amqp.ErrClosed) {
			err = cerr
		}
		select {
		case <-s.done:
		case <-time.After(s.client.handlerTimeout):
		}
		if cerr := s.ch.Close(); cerr != nil && !stderrors.Is(cerr, amqp.ErrClosed) && err == nil {
			err = cerr
		}
	})
	return err
}
