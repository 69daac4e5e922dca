// Package rpc provides the request/reply sink. Each published value is sent
// as a JSON request to an exchange/queue pair and the decoded reply
// envelope is returned:
//
//	rpc+amqp://rabbit:5672/exchange/queue?timeout=10s
package rpc

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	inrpc "github.com/c360/datacollector/input/rpc"
	"github.com/c360/datacollector/options"
	"github.com/c360/datacollector/output"
)

// DefaultTimeout bounds a request when no timeout option is given.
const DefaultTimeout = 30 * time.Second

// Output sends requests over a pooled RPC connection.
type Output struct {
	output.Base
	cfg     inrpc.Config
	timeout time.Duration
	pool    *broker.Pool
}

// NewOutput creates an RPC sink. The broker is dialed on first publish.
func NewOutput(cfg inrpc.Config, timeout time.Duration, deps component.Dependencies) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Brokers == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: broker pool", errors.ErrMissingConfig), "rpc", "NewOutput", "dependency validation")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	name := fmt.Sprintf("rpc:%s/%s/%s", cfg.Endpoint.Label(), cfg.Exchange, cfg.Queue)
	return &Output{Base: output.NewBase(name, deps), cfg: cfg, timeout: timeout, pool: deps.Brokers}, nil
}

// Publish sends v and waits for the reply. A reply with status "error" is
// returned as is: the transport succeeded.
func (r *Output) Publish(ctx context.Context, v any) (any, error) {
	body, err := output.Encode(v)
	if err != nil {
		return nil, r.Observe(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	b, err := r.pool.GetRPC(ctx, r.cfg.Endpoint)
	if err != nil {
		return nil, r.Observe(err)
	}
	raw, err := b.Request(ctx, r.cfg.Exchange, r.cfg.Queue, body)
	if err != nil {
		return nil, r.Observe(errors.Wrap(err, "rpc", "Publish", "request "+r.cfg.Exchange+"/"+r.cfg.Queue))
	}

	reply, err := input.DecodeJSON(raw)
	if err != nil {
		return nil, r.Observe(errors.Wrap(err, "rpc", "Publish", "decode reply"))
	}
	return reply, r.Observe(nil)
}

// Close is a no-op: the connection belongs to the pool.
func (r *Output) Close() error {
	return nil
}

// NewSink builds an RPC sink from an rpc+amqp:// or rpc+nats:// URI.
func NewSink(_ context.Context, u *url.URL, opts map[string]any, deps component.Dependencies) (component.Sink, error) {
	cfg, err := inrpc.ConfigFromURI(u)
	if err != nil {
		return nil, err
	}
	opts = options.MergeQuery(opts, u.Query())
	return NewOutput(cfg, options.GetDuration(opts, "timeout", DefaultTimeout), deps)
}

// Register registers the RPC sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "rpc-sink",
		Type:        component.TypeSink,
		Schemes:     []string{"rpc+amqp", "rpc+nats"},
		Description: "RPC sink sending a request and returning the reply",
		Version:     "1.0.0",
		SinkFactory: NewSink,
	})
}
