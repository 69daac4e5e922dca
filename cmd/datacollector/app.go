package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/componentregistry"
	"github.com/c360/datacollector/config"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/health"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/natsclient"
	"github.com/c360/datacollector/pipeline"
	"github.com/c360/datacollector/pkg/tlsutil"
	"github.com/c360/datacollector/record"
	"github.com/c360/datacollector/rules"
	"github.com/c360/datacollector/rules/script"
)

// App owns the shared infrastructure and the pipelines built from one
// configuration.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	pool     *broker.Pool
	reader   *input.Reader
	engine   *rules.Engine
	monitor  *health.Monitor

	pipelines []*pipeline.Pipeline
	sinks     []component.Sink
}

// NewApp builds every enabled pipeline of cfg, or only the one called only
// when it is not empty. Sinks are opened here so a bad output URI fails
// before anything runs.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry, only string) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	readerOpts := []input.Option{input.WithLogger(logger)}
	if !cfg.HTTP.TLS.IsZero() {
		client, err := tlsutil.NewHTTPClient(cfg.HTTP.TLS)
		if err != nil {
			return nil, fmt.Errorf("http tls: %w", err)
		}
		readerOpts = append(readerOpts, input.WithHTTPClient(client))
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		pool:     componentregistry.NewBrokerPool(logger, registry, natsOptions(cfg.Brokers.NATS)...),
		reader:   input.NewReader(readerOpts...),
		engine:   rules.NewEngine(rules.WithLogger(logger), rules.WithMetrics(registry)),
		monitor:  health.NewMonitor(appName),
	}

	found := only == ""
	for _, pc := range cfg.Pipelines {
		if only != "" {
			if pc.Name != only {
				continue
			}
			found = true
		} else if !pc.IsEnabled() {
			logger.Info("pipeline disabled in config", "pipeline", pc.Name)
			continue
		}

		p, err := a.buildPipeline(ctx, pc)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("pipeline %s: %w", pc.Name, err)
		}
		a.pipelines = append(a.pipelines, p)
		a.monitor.Register(p.Name(), func() health.Status {
			return health.FromReport(p.Name(), p.Health())
		})
	}

	if !found {
		_ = a.Close(ctx)
		return nil, errors.WrapInvalid(fmt.Errorf("%w: pipeline %s", errors.ErrNotFound, only),
			"App", "NewApp", "select pipeline")
	}
	return a, nil
}

// natsOptions maps the brokers.nats section onto client options. Zero
// values keep the client defaults.
func natsOptions(n config.NATSConfig) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait),
		natsclient.WithTimeout(n.Timeout),
		natsclient.WithDrainTimeout(n.DrainTimeout),
		natsclient.WithHandlerTimeout(n.HandlerTimeout),
		natsclient.WithCircuitBreaker(n.CircuitThreshold, n.CircuitMaxBackoff),
	}
	if n.Name != "" {
		opts = append(opts, natsclient.WithName(n.Name))
	}
	if n.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(n.PingInterval))
	}
	return opts
}

// Pipelines returns the built pipelines.
func (a *App) Pipelines() []*pipeline.Pipeline {
	return a.pipelines
}

// Monitor reports the health of every pipeline.
func (a *App) Monitor() *health.Monitor {
	return a.monitor
}

func (a *App) dependencies() component.Dependencies {
	return component.Dependencies{
		Brokers:         a.pool,
		Reader:          a.reader,
		MetricsRegistry: a.registry,
		Logger:          a.logger,
	}
}

func (a *App) buildPipeline(ctx context.Context, pc config.PipelineConfig) (*pipeline.Pipeline, error) {
	set, err := a.loadRules(pc)
	if err != nil {
		return nil, err
	}

	var sink component.Sink
	if pc.Output != nil {
		sink, err = componentregistry.OpenSink(ctx, pc.Output.URI, pc.Output.Options, a.dependencies())
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		a.sinks = append(a.sinks, sink)
	}

	opts := []pipeline.Option{
		pipeline.WithDependencies(a.dependencies()),
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.registry),
	}
	if pc.Name != "" {
		opts = append(opts, pipeline.WithName(pc.Name))
	}
	switch {
	case pc.Schedule != "":
		opts = append(opts, pipeline.WithSchedule(pc.Schedule))
	case pc.Cron != "":
		opts = append(opts, pipeline.WithCron(pc.Cron))
	case pc.Source != nil:
		opts = append(opts, pipeline.WithSource(pc.Source.URI, pc.Source.Options))
	}

	p := pipeline.New(opts...)
	p.OnMessage(a.collect(pc, set, sink))
	return p, nil
}

// loadRules returns nil when the pipeline has no rules, in which case the
// collected data is published as is.
func (a *App) loadRules(pc config.PipelineConfig) (rules.Set, error) {
	loader := rules.NewLoader(script.Compilers()...)
	switch {
	case pc.Rules != "":
		return loader.LoadFile(pc.Rules)
	case pc.HasInlineRules():
		set, err := loader.ParseNode(&pc.RulesInline)
		if err != nil {
			return nil, fmt.Errorf("rules_inline: %w", err)
		}
		return set, nil
	}
	return nil, nil
}

// collect returns the pipeline handler: fetch the input, apply the rules
// and publish the record to the output.
func (a *App) collect(pc config.PipelineConfig, set rules.Set, sink component.Sink) pipeline.Handler {
	return func(ctx context.Context, in *input.Reader, out *record.Record, payload any) error {
		data, err := a.fetch(ctx, pc, in, payload)
		if err != nil {
			return err
		}

		var result any = data
		if set != nil {
			if _, err := a.engine.Run(ctx, set, data, out, pc.RuleOptions); err != nil {
				return err
			}
			result = out
		} else {
			out.Append(data)
		}

		if sink == nil {
			return nil
		}
		if _, err := sink.Publish(ctx, result); err != nil {
			return fmt.Errorf("publish to %s: %w", pc.Output.URI, err)
		}
		return nil
	}
}

// fetch resolves the data a run works on. A configured input is read on
// every run. A directory source hands over the path of the new file, which
// is read with the source options. Queue and RPC payloads are used as is.
func (a *App) fetch(ctx context.Context, pc config.PipelineConfig, in *input.Reader, payload any) (any, error) {
	if pc.Input != nil {
		return in.FromURI(ctx, pc.Input.URI, pc.Input.Options)
	}
	if path, ok := payload.(string); ok && pc.Source != nil && isFileURI(pc.Source.URI) {
		return in.FromURI(ctx, path, pc.Source.Options)
	}
	return payload, nil
}

func isFileURI(uri string) bool {
	u, err := input.ParseURI(uri)
	return err == nil && u.Scheme == "file"
}

// Run runs every pipeline until ctx is done or all of them returned. One-shot
// pipelines return after their single run.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range a.pipelines {
		g.Go(func() error {
			err := p.Run(gctx)
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stop stops every pipeline.
func (a *App) Stop() {
	for _, p := range a.pipelines {
		if err := p.Stop(); err != nil {
			a.logger.Warn("pipeline stop failed", "pipeline", p.Name(), "error", err)
		}
	}
}

// Close stops the pipelines and releases sinks and broker connections.
func (a *App) Close(ctx context.Context) error {
	a.Stop()

	var errs []error
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.sinks = nil

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.pool.Close(closeCtx); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}
