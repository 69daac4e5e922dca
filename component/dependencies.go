package component

import (
	"log/slog"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/metric"
)

// Dependencies provides all external dependencies needed by sources and sinks.
type Dependencies struct {
	Brokers         *broker.Pool            // Broker connections shared by queue and RPC components (can be nil)
	Reader          *input.Reader           // Shared URI reader handed to handlers (can be nil)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// GetReader returns the shared reader or a new one using the dependency logger.
func (d *Dependencies) GetReader() *input.Reader {
	if d.Reader != nil {
		return d.Reader
	}
	return input.NewReader(input.WithLogger(d.GetLogger()))
}
