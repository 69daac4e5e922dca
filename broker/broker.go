package broker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Handler receives one message body.
type Handler func(ctx context.Context, body []byte)

// ReplyHandler receives a request body and returns the reply body.
type ReplyHandler func(ctx context.Context, body []byte) []byte

// Subscription is an active consumer or responder registration.
type Subscription interface {
	Unsubscribe() error
}

// Broker publishes to and consumes from named queues.
type Broker interface {
	Publish(ctx context.Context, route string, body []byte) error
	Subscribe(ctx context.Context, queue string, h Handler) (Subscription, error)
	Close(ctx context.Context) error
}

// RPCBroker adds request/reply on top of Broker.
type RPCBroker interface {
	Broker
	Respond(ctx context.Context, exchange, queue string, h ReplyHandler) (Subscription, error)
	Request(ctx context.Context, exchange, queue string, body []byte) ([]byte, error)
}

// Durable is implemented by brokers that can consume through a named durable
// consumer: a JetStream stream for NATS, a consumer group for Kafka.
type Durable interface {
	SubscribeDurable(ctx context.Context, queue, durable string, h Handler) (Subscription, error)
}

// RPCPrefix marks request/reply URIs such as rpc+amqp://host/exchange/queue.
const RPCPrefix = "rpc+"

// Endpoint is the connection part of a broker URI.
type Endpoint struct {
	Scheme   string
	User     string
	Password string
	Host     string
	VHost    string
	Query    url.Values
}

// ParseEndpoint extracts the connection endpoint from u. The rpc+ prefix is
// removed from the scheme. For amqp the first path segment is the vhost
// when the path has more segments than the caller consumes, so callers pass
// the number of trailing segments they use as names.
func ParseEndpoint(u *url.URL, nameSegments int) Endpoint {
	ep := Endpoint{
		Scheme: strings.TrimPrefix(strings.ToLower(u.Scheme), RPCPrefix),
		Host:   u.Host,
		Query:  u.Query(),
	}
	if u.User != nil {
		ep.User = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	segments := PathSegments(u)
	if extra := len(segments) - nameSegments; extra > 0 {
		ep.VHost = strings.Join(segments[:extra], "/")
	}
	return ep
}

// PathSegments returns the non-empty path segments of u.
func PathSegments(u *url.URL) []string {
	var out []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Key identifies a connection. Endpoints with the same key share one
// connection in a Pool.
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s://%s@%s/%s", e.Scheme, e.User, e.Host, e.VHost)
}

// Label is a metrics-safe name for the endpoint without credentials.
func (e Endpoint) Label() string {
	return e.Scheme + "://" + e.Host
}

// URL rebuilds the connection URL including credentials.
func (e Endpoint) URL() string {
	u := url.URL{Scheme: e.Scheme, Host: e.Host}
	if e.User != "" {
		if e.Password != "" {
			u.User = url.UserPassword(e.User, e.Password)
		} else {
			u.User = url.User(e.User)
		}
	}
	if e.VHost != "" {
		u.Path = "/" + e.VHost
	}
	return u.String()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}
