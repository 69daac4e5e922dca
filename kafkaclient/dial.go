package kafkaclient

import (
	"context"
	"log/slog"

	"github.com/c360/datacollector/broker"
)

// NewDialer returns a broker.Dialer for kafka:// endpoints. The URI host and
// an optional brokers query parameter list the bootstrap servers.
func NewDialer(opts ...Option) broker.Dialer {
	return func(ctx context.Context, ep broker.Endpoint, logger *slog.Logger) (broker.Broker, error) {
		brokers := BrokerList(append([]string{ep.Host}, ep.Query["brokers"]...)...)
		if len(brokers) == 0 {
			brokers = []string{"localhost:9092"}
		}
		all := append([]Option{WithLogger(logger)}, opts...)
		c := NewClient(brokers, ep.Label(), all...)
		if err := c.Ping(ctx); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		return c, nil
	}
}

// Dial connects with default options.
func Dial(ctx context.Context, ep broker.Endpoint, logger *slog.Logger) (broker.Broker, error) {
	return NewDialer()(ctx, ep, logger)
}
