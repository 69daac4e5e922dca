package amqpclient

import (
	"context"
	"log/slog"

	"github.com/c360/datacollector/broker"
)

// NewDialer returns a broker.Dialer that connects clients built with opts.
func NewDialer(opts ...Option) broker.Dialer {
	return func(ctx context.Context, ep broker.Endpoint, logger *slog.Logger) (broker.Broker, error) {
		all := append([]Option{WithLogger(logger)}, opts...)
		return Connect(ctx, ep.URL(), ep.Label(), all...)
	}
}

// Dial connects with default options.
func Dial(ctx context.Context, ep broker.Endpoint, logger *slog.Logger) (broker.Broker, error) {
	return NewDialer()(ctx, ep, logger)
}
