package natsclient

import (
	"context"
	"log/slog"
	"strings"

	"github.com/c360/datacollector/broker"
)

// NewDialer returns a broker.Dialer that connects NATS clients built with
// opts. Credentials in the endpoint become user/password authentication, or
// a token when only a user is given.
func NewDialer(opts ...ClientOption) broker.Dialer {
	return func(ctx context.Context, ep broker.Endpoint, logger *slog.Logger) (broker.Broker, error) {
		all := append([]ClientOption{WithLogger(logger), WithLabel(ep.Label())}, opts...)
		switch {
		case ep.User != "" && ep.Password != "":
			all = append(all, WithCredentials(ep.User, ep.Password))
		case ep.User != "":
			all = append(all, WithToken(ep.User))
		}

		client, err := NewClient(serverURL(ep), all...)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Dial connects with default client options.
func Dial(ctx context.Context, ep broker.Endpoint, logger *slog.Logger) (broker.Broker, error) {
	return NewDialer()(ctx, ep, logger)
}

// serverURL is the endpoint without credentials or path, which nats.go
// would otherwise reject or ignore.
func serverURL(ep broker.Endpoint) string {
	host := ep.Host
	if host == "" {
		host = "localhost:4222"
	} else if !strings.Contains(host, ":") {
		host += ":4222"
	}
	return "nats://" + host
}
