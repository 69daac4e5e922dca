package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/pkg/retry"
)

// Dialer opens a broker connection for an endpoint.
type Dialer func(ctx context.Context, ep Endpoint, logger *slog.Logger) (Broker, error)

// Pool keeps one connection per endpoint key. It is passed explicitly to the
// components that need it and closed by whoever created it.
type Pool struct {
	dialers map[string]Dialer
	logger  *slog.Logger
	metrics *metric.Metrics
	retry   retry.Config

	mu      sync.Mutex
	conns   map[string]Broker
	labels  map[string]string
	dialing map[string]*dial
	closed  bool
}

type dial struct {
	done chan struct{}
	b    Broker
	err  error
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithDialer registers the dialer for a URI scheme such as "amqp".
func WithDialer(scheme string, d Dialer) PoolOption {
	return func(p *Pool) {
		p.dialers[strings.ToLower(scheme)] = d
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics reports connection status to registry. A nil registry
// disables metrics.
func WithMetrics(registry *metric.MetricsRegistry) PoolOption {
	return func(p *Pool) {
		if registry != nil {
			p.metrics = registry.CoreMetrics()
		}
	}
}

// WithRetry sets the retry policy for dialing.
func WithRetry(cfg retry.Config) PoolOption {
	return func(p *Pool) {
		p.retry = cfg
	}
}

// NewPool creates an empty pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		dialers: make(map[string]Dialer),
		logger:  slog.Default(),
		retry:   retry.Quick(),
		conns:   make(map[string]Broker),
		labels:  make(map[string]string),
		dialing: make(map[string]*dial),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "broker-pool")
	if p.retry.RetryIf == nil {
		p.retry.RetryIf = errors.IsTransient
	}
	return p
}

// Schemes returns the schemes the pool can dial, sorted.
func (p *Pool) Schemes() []string {
	out := make([]string, 0, len(p.dialers))
	for s := range p.dialers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Get returns the broker for u, dialing it on first use.
func (p *Pool) Get(ctx context.Context, u *url.URL) (Broker, error) {
	return p.get(ctx, ParseEndpoint(u, 0))
}

// GetEndpoint returns the broker for ep, dialing it on first use.
func (p *Pool) GetEndpoint(ctx context.Context, ep Endpoint) (Broker, error) {
	return p.get(ctx, ep)
}

// GetRPC returns the request/reply broker for ep.
func (p *Pool) GetRPC(ctx context.Context, ep Endpoint) (RPCBroker, error) {
	b, err := p.get(ctx, ep)
	if err != nil {
		return nil, err
	}
	rpc, ok := b.(RPCBroker)
	if !ok {
		return nil, errors.UnsupportedOperation(ep.Scheme, "rpc")
	}
	return rpc, nil
}

func (p *Pool) get(ctx context.Context, ep Endpoint) (Broker, error) {
	dialer, ok := p.dialers[ep.Scheme]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnsupportedScheme, ep.Scheme),
			"Pool", "Get", "dialer lookup")
	}
	key := ep.Key()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Pool", "Get", "pool closed")
	}
	if b, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return b, nil
	}
	if d, ok := p.dialing[key]; ok {
		p.mu.Unlock()
		select {
		case <-d.done:
			return d.b, d.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d := &dial{done: make(chan struct{})}
	p.dialing[key] = d
	p.mu.Unlock()

	logger := p.logger.With("broker", ep.Label())
	cfg := p.retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("Dial failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	d.b, d.err = retry.DoWithResult(ctx, cfg, func() (Broker, error) {
		return dialer(ctx, ep, logger)
	})

	p.mu.Lock()
	delete(p.dialing, key)
	switch {
	case d.err != nil:
		d.err = errors.Wrap(d.err, "Pool", "Get", "dial "+ep.Label())
	case p.closed:
		_ = d.b.Close(context.Background())
		d.b, d.err = nil, errors.WrapFatal(errors.ErrNoConnection, "Pool", "Get", "pool closed")
	default:
		p.conns[key] = d.b
		p.labels[key] = ep.Label()
	}
	p.mu.Unlock()
	close(d.done)

	if p.metrics != nil {
		p.metrics.RecordBrokerStatus(ep.Label(), d.err == nil)
	}
	if d.err != nil {
		p.logger.Error("broker dial failed", "broker", ep.Label(), "error", d.err)
		return nil, d.err
	}
	p.logger.Info("broker connected", "broker", ep.Label())
	return d.b, nil
}

// Len returns the number of open connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close closes every connection. The pool cannot be used afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns, labels := p.conns, p.labels
	p.conns = make(map[string]Broker)
	p.labels = make(map[string]string)
	p.mu.Unlock()

	var errs []error
	for key, b := range conns {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, err)
			p.logger.Error("broker close failed", "broker", labels[key], "error", err)
		}
		if p.metrics != nil {
			p.metrics.RecordBrokerStatus(labels[key], false)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(fmt.Errorf("%d connections failed to close: %w", len(errs), errs[0]), "Pool", "Close", "close connections")
	}
	return nil
}
