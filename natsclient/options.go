package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/datacollector/metric"
)

// ClientOption configures a Client. Options reject values the connection
// could not use.
type ClientOption func(*Client) error

func positive(name string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%s must not be negative: %v", name, d)
	}
	return nil
}

// WithMaxReconnects sets the reconnect budget. -1 reconnects forever.
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		if max < -1 {
			return fmt.Errorf("max reconnects must be -1 or more: %d", max)
		}
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return positive("reconnect wait", d)
	}
}

// WithPingInterval sets how often the server is pinged.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return positive("ping interval", d)
	}
}

// WithHealthInterval sets the RTT probe interval. Zero disables probing.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return positive("health interval", d)
	}
}

// WithCircuitBreaker opens the circuit after threshold consecutive connect
// failures and caps its backoff at maxBackoff. Zero keeps a default.
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold > 0 {
			c.circuitThreshold = threshold
		}
		if maxBackoff > 0 {
			if maxBackoff < time.Second {
				return fmt.Errorf("circuit breaker backoff below 1s: %v", maxBackoff)
			}
			c.maxBackoff = maxBackoff
		}
		return nil
	}
}

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithName sets the connection name reported to the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return positive("timeout", d)
	}
}

// WithDrainTimeout bounds draining on Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.drainTimeout = d
		}
		return positive("drain timeout", d)
	}
}

// WithHandlerTimeout bounds the context handed to each message handler.
func WithHandlerTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.handlerTimeout = d
		}
		return positive("handler timeout", d)
	}
}

// WithLabel sets the broker label used in logs and metrics. Defaults to the URL.
func WithLabel(label string) ClientOption {
	return func(c *Client) error {
		if label != "" {
			c.label = label
		}
		return nil
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics reports connection status, reconnects and circuit breaker
// state to registry. A nil registry disables metrics.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}
