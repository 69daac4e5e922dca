// Package componentregistry wires every datacollector source and sink into a
// component.Registry, so URIs can be opened by scheme.
package componentregistry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/c360/datacollector/amqpclient"
	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/component"
	pkgerrors "github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input/dir"
	"github.com/c360/datacollector/input/queue"
	"github.com/c360/datacollector/input/rpc"
	"github.com/c360/datacollector/kafkaclient"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/natsclient"
	"github.com/c360/datacollector/output/file"
	"github.com/c360/datacollector/output/httppost"
	outqueue "github.com/c360/datacollector/output/queue"
	outrpc "github.com/c360/datacollector/output/rpc"
	"github.com/c360/datacollector/output/s3"
)

// Register registers all datacollector components with the provided registry:
//
// Sources (event driven):
//   - dir: directory watch (file://)
//   - queue: queue consumer (amqp://, nats://, kafka://)
//   - rpc: RPC responder (rpc+amqp://, rpc+nats://)
//
// Sinks:
//   - file: JSON / NDJSON / tar.gz files (file://)
//   - httppost: HTTP POST or PUT (http://, https://)
//   - queue-sink: queue publisher (amqp://, nats://, kafka://)
//   - rpc-sink: RPC request/reply (rpc+amqp://, rpc+nats://)
//   - s3: object upload (s3://)
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	// Sources
	if err := dir.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "directory source registration")
	}

	if err := queue.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "queue source registration")
	}

	if err := rpc.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "RPC source registration")
	}

	// Sinks
	if err := file.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "file sink registration")
	}

	if err := httppost.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "HTTP POST sink registration")
	}

	if err := outqueue.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "queue sink registration")
	}

	if err := outrpc.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "RPC sink registration")
	}

	if err := s3.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "S3 sink registration")
	}

	return nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *component.Registry
	defaultErr      error
)

// Default returns a registry holding every built-in component. It is built
// once per process.
func Default() (*component.Registry, error) {
	defaultOnce.Do(func() {
		registry := component.NewRegistry()
		if err := Register(registry); err != nil {
			defaultErr = err
			return
		}
		defaultRegistry = registry
	})
	return defaultRegistry, defaultErr
}

// OpenSource creates the source serving the scheme of uri. The source is
// idle until Run.
func OpenSource(uri string, opts map[string]any, deps component.Dependencies) (component.Source, error) {
	registry, err := Default()
	if err != nil {
		return nil, err
	}
	return registry.OpenSource(uri, opts, deps)
}

// OpenSink creates the sink serving the scheme of uri.
func OpenSink(ctx context.Context, uri string, opts map[string]any, deps component.Dependencies) (component.Sink, error) {
	registry, err := Default()
	if err != nil {
		return nil, err
	}
	return registry.OpenSink(ctx, uri, opts, deps)
}

// NewBrokerPool returns a pool able to dial nats, amqp and kafka endpoints.
// natsOpts tune every NATS connection. The caller owns the pool and must
// Close it.
func NewBrokerPool(logger *slog.Logger, registry *metric.MetricsRegistry, natsOpts ...natsclient.ClientOption) *broker.Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return broker.NewPool(
		broker.WithLogger(logger),
		broker.WithMetrics(registry),
		broker.WithDialer("nats", natsclient.NewDialer(append(natsOpts, natsclient.WithMetrics(registry))...)),
		broker.WithDialer("amqp", amqpclient.NewDialer(amqpclient.WithMetrics(registry))),
		broker.WithDialer("kafka", kafkaclient.NewDialer(kafkaclient.WithMetrics(registry))),
	)
}
