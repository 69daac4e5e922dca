package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client manages a NATS connection with a circuit breaker. It implements
// broker.RPCBroker and broker.Durable.
type Client struct {
	url      string
	label    string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger
	metrics  *metric.Metrics

	conn *nats.Conn
	js   jetstream.JetStream
	subs map[*subscription]struct{}

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	maxReconnects  int
	reconnectWait  time.Duration
	pingInterval   time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	handlerTimeout time.Duration

	// Authentication, cleared on close
	username string
	password string
	token    string

	clientName string

	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		label:            url,
		logger:           slog.Default(),
		subs:             make(map[*subscription]struct{}),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		handlerTimeout:   30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	if m.metrics != nil {
		m.metrics.RecordBrokerStatus(m.label, status == StatusConnected)
		open := 0
		if status == StatusCircuitOpen {
			open = 1
		}
		m.metrics.RecordCircuitBreakerState(m.label, open)
	}
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages circuit breaker
func (m *Client) recordFailure() {
	totalFailures := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	circuitFailures := m.circuitFailures.Add(1)

	m.logger.Debug("recorded failure", "failures", totalFailures, "circuit_failures", circuitFailures)

	if circuitFailures < m.circuitThreshold {
		return
	}

	currentBackoff := m.backoff.Load().(time.Duration)
	newBackoff := currentBackoff * 2
	if newBackoff > m.maxBackoff {
		newBackoff = m.maxBackoff
	}

	currentStatus := m.Status()
	if currentStatus != StatusCircuitOpen {
		// Only one goroutine wins the transition to open.
		if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
			m.setStatus(StatusCircuitOpen)
			m.backoff.Store(newBackoff)
			m.circuitFailures.Store(0)
			m.logger.Warn("circuit breaker opened", "failures", circuitFailures, "backoff", currentBackoff)
			time.AfterFunc(currentBackoff, m.testCircuit)
		}
		return
	}

	m.backoff.Store(newBackoff)
	m.circuitFailures.Store(0)
	m.logger.Warn("circuit breaker still open", "backoff", newBackoff)
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so the next Connect may try again.
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debug("circuit breaker half-open")
		m.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// Connect establishes connection to NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "circuit check")
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("connecting to NATS", "url", m.label)

	opts := m.ConnectionOptions()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		if js, err := jetstream.New(conn); err == nil {
			m.js = js
		}
		m.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			m.recordFailure()
			if m.Status() == StatusCircuitOpen {
				return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "establish connection")
			}
			m.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.recordFailure()
		if m.Status() != StatusCircuitOpen {
			m.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("connected to NATS", "url", m.label)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	return nil
}

// Close drains and closes the connection. Calling Close twice is a no-op.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.stopHealthMonitoring()

	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[*subscription]struct{})
	conn := m.conn
	m.conn = nil
	m.js = nil
	m.username, m.password, m.token = "", "", ""
	m.mu.Unlock()

	var errs []error
	for sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}

	if conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain timeout"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain"))
		}
		conn.Close()
	}

	m.setStatus(StatusDisconnected)

	if len(errs) > 0 {
		for _, err := range errs {
			m.logger.Error("NATS close failed", "error", err)
		}
		return stderrors.Join(errs...)
	}
	return nil
}

// connected returns the live connection or an error.
func (m *Client) connected(method string) (*nats.Conn, error) {
	if m.Status() == StatusCircuitOpen {
		return nil, errors.WrapTransient(ErrCircuitOpen, "Client", method, "circuit check")
	}
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", method, "connection check")
	}
	return conn, nil
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := m.connected("Publish")
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Subscribe consumes subject as a queue group named after the subject, so
// several consumers of the same queue share its messages. Each handler call
// gets a context bounded by the handler timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler broker.Handler) (broker.Subscription, error) {
	conn, err := m.connected("Subscribe")
	if err != nil {
		return nil, err
	}

	sub, err := conn.QueueSubscribe(subject, subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Subscribe", "subscribe "+subject)
	}
	return m.track(&subscription{client: m, release: sub.Unsubscribe}), nil
}

// SubscribeDurable consumes subject through a durable JetStream consumer on
// stream. Messages are acknowledged after the handler returns.
func (m *Client) SubscribeDurable(ctx context.Context, subject, stream string, handler broker.Handler) (broker.Subscription, error) {
	if _, err := m.connected("SubscribeDurable"); err != nil {
		return nil, err
	}
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durableName(stream, subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		m.recordFailure()
		return nil, errors.Wrap(err, "Client", "SubscribeDurable", "create consumer on "+stream)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Data())
		if err := msg.Ack(); err != nil {
			m.logger.Warn("ack failed", "stream", stream, "error", err)
		}
	})
	if err != nil {
		m.recordFailure()
		return nil, errors.Wrap(err, "Client", "SubscribeDurable", "consume "+stream)
	}
	return m.track(&subscription{client: m, release: func() error { cc.Stop(); return nil }}), nil
}

// Respond answers requests on exchange.queue. Responders sharing a subject
// form a queue group.
func (m *Client) Respond(ctx context.Context, exchange, queue string, handler broker.ReplyHandler) (broker.Subscription, error) {
	conn, err := m.connected("Respond")
	if err != nil {
		return nil, err
	}

	subject := RPCSubject(exchange, queue)
	sub, err := conn.QueueSubscribe(subject, subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
		reply := handler(msgCtx, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			m.logger.Error("reply failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Respond", "subscribe "+subject)
	}
	return m.track(&subscription{client: m, release: sub.Unsubscribe}), nil
}

// Request sends body to exchange.queue and waits for the reply or ctx.
func (m *Client) Request(ctx context.Context, exchange, queue string, body []byte) ([]byte, error) {
	conn, err := m.connected("Request")
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.handlerTimeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(ctx, RPCSubject(exchange, queue), body)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+RPCSubject(exchange, queue))
	}
	return msg.Data, nil
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// CreateStream creates or updates a JetStream stream
func (m *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if _, err := m.connected("CreateStream"); err != nil {
		return nil, err
	}
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.recordFailure()
		return nil, errors.Wrap(err, "Client", "CreateStream", "create stream "+cfg.Name)
	}
	return stream, nil
}

// RPCSubject is the NATS subject for an RPC exchange and queue.
func RPCSubject(exchange, queue string) string {
	return exchange + "." + queue
}

func durableName(stream, subject string) string {
	name := []byte(stream + "_" + subject)
	for i, b := range name {
		switch b {
		case '.', '*', '>', ' ':
			name[i] = '_'
		}
	}
	return string(name)
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	if m.metrics != nil {
		m.metrics.RecordBrokerReconnect(m.label)
	}
	m.logger.Info("NATS reconnected")
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Error("NATS error", "error", err)
}

func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	done := make(chan struct{})
	m.healthDone = done
	interval := m.healthInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastHealthy := m.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.mu.RLock()
				conn := m.conn
				m.mu.RUnlock()
				if conn == nil {
					continue
				}

				healthy := conn.IsConnected()
				if _, err := conn.RTT(); err != nil {
					healthy = false
				}
				if healthy && m.Status() != StatusConnected {
					m.setStatus(StatusConnected)
				} else if !healthy && m.Status() == StatusConnected {
					m.setStatus(StatusReconnecting)
				}
				if healthy != lastHealthy {
					m.logger.Info("NATS health changed", "healthy", healthy)
				}
				lastHealthy = healthy
			}
		}
	}()
}

func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}

type subscription struct {
	client  *Client
	release func() error
	once    sync.Once
}

func (m *Client) track(s *subscription) *subscription {
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s
}

// Unsubscribe stops delivery. Calling it twice is a no-op.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s)
		s.client.mu.Unlock()
		err = s.release()
	})
	return err
}
