package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input/queue"
)

// Reply statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reply is the envelope sent back to the requester. Successful replies
// always carry data, failed ones only the error message.
type Reply struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
	Error  string `json:"error,omitempty"`
}

// MarshalJSON omits data from error replies.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Status == StatusError {
		return json.Marshal(struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}{r.Status, r.Error})
	}
	type plain Reply
	return json.Marshal(plain(r))
}

// Config names the endpoint and the exchange/queue pair served.
type Config struct {
	Endpoint broker.Endpoint
	Exchange string
	Queue    string
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Endpoint.Scheme == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "rpc", "Validate", "scheme is required")
	}
	if c.Exchange == "" || c.Queue == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: path must be /exchange/queue", errors.ErrInvalidConfig),
			"rpc", "Validate", "path validation")
	}
	return nil
}

// ConfigFromURI splits rpc+scheme://host/exchange/queue. The path holds
// exactly two segments; an amqp vhost is given as the vhost query option.
func ConfigFromURI(u *url.URL) (Config, error) {
	segments := broker.PathSegments(u)
	if len(segments) != 2 {
		return Config{}, errors.WrapInvalid(fmt.Errorf("%w: path must be /exchange/queue, got %q", errors.ErrInvalidConfig, u.Path),
			"rpc", "ConfigFromURI", "path validation")
	}
	ep := broker.ParseEndpoint(u, 2)
	ep.VHost = ep.Query.Get("vhost")
	if ep.VHost != "" && ep.Scheme != "amqp" {
		return Config{}, errors.WrapInvalid(fmt.Errorf("%w: vhost is only valid for amqp", errors.ErrInvalidConfig),
			"rpc", "ConfigFromURI", "vhost validation")
	}
	return Config{
		Endpoint: ep,
		Exchange: segments[0],
		Queue:    segments[1],
	}, nil
}

// Responder answers requests on an exchange/queue pair with the result of
// the registered handler.
type Responder struct {
	*component.Lifecycle

	cfg  Config
	pool *broker.Pool

	mu  sync.Mutex
	sub broker.Subscription
}

// NewResponder creates an idle responder. The broker is dialed by Run.
func NewResponder(cfg Config, deps component.Dependencies) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Brokers == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: broker pool", errors.ErrMissingConfig), "rpc", "NewResponder", "dependency validation")
	}

	r := &Responder{cfg: cfg, pool: deps.Brokers}
	name := fmt.Sprintf("rpc:%s/%s/%s", cfg.Endpoint.Label(), cfg.Exchange, cfg.Queue)
	r.Lifecycle = component.NewLifecycle(name, deps, component.Hooks{
		Start: r.start,
		Stop:  r.stop,
	})
	return r, nil
}

// Pause always fails with ErrUnsupportedOperation.
func (r *Responder) Pause() error {
	return errors.UnsupportedOperation(r.Name(), "Pause")
}

func (r *Responder) start(ctx context.Context) error {
	b, err := r.pool.GetRPC(ctx, r.cfg.Endpoint)
	if err != nil {
		return err
	}
	sub, err := b.Respond(ctx, r.cfg.Exchange, r.cfg.Queue, r.reply)
	if err != nil {
		return errors.Wrap(err, "rpc", "start", "respond on "+r.cfg.Exchange+"/"+r.cfg.Queue)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	r.Logger().Info("responding", "exchange", r.cfg.Exchange, "queue", r.cfg.Queue)
	return nil
}

func (r *Responder) stop() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (r *Responder) reply(ctx context.Context, body []byte) []byte {
	result, err := r.Dispatch(ctx, queue.DecodeBody(body))

	reply := Reply{Status: StatusOK, Data: result}
	if err != nil {
		reply = Reply{Status: StatusError, Error: err.Error()}
	}

	out, err := json.Marshal(reply)
	if err != nil {
		r.Logger().Error("encode reply failed", "error", err)
		out, _ = json.Marshal(Reply{Status: StatusError, Error: "reply not serializable: " + err.Error()})
	}
	return out
}

// NewSource builds a responder from an rpc+amqp:// or rpc+nats:// URI.
func NewSource(u *url.URL, _ map[string]any, deps component.Dependencies) (component.Source, error) {
	cfg, err := ConfigFromURI(u)
	if err != nil {
		return nil, err
	}
	return NewResponder(cfg, deps)
}

// Register registers the RPC responder source with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:          "rpc",
		Type:          component.TypeSource,
		Schemes:       []string{"rpc+amqp", "rpc+nats"},
		Description:   "RPC responder source replying with the handler result",
		Version:       "1.0.0",
		SourceFactory: NewSource,
	})
}
