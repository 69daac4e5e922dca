package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/componentregistry"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/health"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/record"
)

// Handler is the pipeline callback. in reads further resources, out is a
// fresh record for this run and payload is the event that triggered it (nil
// for scheduled and one-shot runs).
type Handler func(ctx context.Context, in *input.Reader, out *record.Record, payload any) error

// Opener creates the event source for a URI.
type Opener func(uri string, opts map[string]any, deps component.Dependencies) (component.Source, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithName names the pipeline. The default is a random uuid.
func WithName(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.name = name
		}
	}
}

// WithSchedule runs the callback every ISO8601 duration, e.g. PT5M.
func WithSchedule(iso8601 string) Option {
	return func(p *Pipeline) {
		p.interval = iso8601
	}
}

// WithCron runs the callback whenever the cron expression matches.
func WithCron(expr string) Option {
	return func(p *Pipeline) {
		p.cron = expr
	}
}

// WithSource runs the callback for every event delivered by the source
// at uri.
func WithSource(uri string, opts map[string]any) Option {
	return func(p *Pipeline) {
		p.sourceURI = uri
		p.sourceOpts = opts
	}
}

// WithDependencies sets the reader, broker pool, logger and metrics handed to
// sources. A pool supplied here is not closed by Stop.
func WithDependencies(deps component.Dependencies) Option {
	return func(p *Pipeline) {
		p.deps = deps
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.deps.Logger = logger
	}
}

// WithMetrics records run metrics to registry. A nil registry disables
// metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) {
		p.deps.MetricsRegistry = registry
	}
}

// WithOpener replaces componentregistry.OpenSource.
func WithOpener(open Opener) Option {
	return func(p *Pipeline) {
		if open != nil {
			p.open = open
		}
	}
}

// Pipeline composes one schedule or one event source with a callback.
type Pipeline struct {
	name       string
	interval   string
	cron       string
	sourceURI  string
	sourceOpts map[string]any
	deps       component.Dependencies
	open       Opener
	logger     *slog.Logger
	metrics    *runMetrics

	runCount atomic.Int64

	mu        sync.Mutex
	state     component.State
	changed   chan struct{}
	handler   Handler
	listeners []component.Source
	pool      *broker.Pool

	startedAt  time.Time
	lastRun    time.Time
	lastErr    error
	lastFailed bool
	errorCount int64
}

// New creates an idle pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		name:    uuid.NewString(),
		open:    componentregistry.OpenSource,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.deps.GetLogger().With("component", "pipeline", "pipeline", p.name)
	if p.deps.Reader == nil {
		p.deps.Reader = input.NewReader(input.WithLogger(p.deps.GetLogger()))
	}
	p.metrics = newRunMetrics(p.deps.MetricsRegistry, p.logger)
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// OnMessage registers the callback, replacing any previous one.
func (p *Pipeline) OnMessage(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// RunCount returns how many times the callback ran. An event source counts
// once, when it is armed.
func (p *Pipeline) RunCount() int64 {
	return p.runCount.Load()
}

// State returns the current state.
func (p *Pipeline) State() component.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Running reports whether the pipeline was started and not stopped. A paused
// pipeline is still running.
func (p *Pipeline) Running() bool {
	s := p.State()
	return s == component.StateRunning || s == component.StatePaused
}

// Paused reports whether the pipeline is paused.
func (p *Pipeline) Paused() bool {
	return p.State() == component.StatePaused
}

// Stopped reports whether the pipeline is not running, including a pipeline
// that was never run.
func (p *Pipeline) Stopped() bool {
	return !p.Running()
}

// transition must be called with mu held.
func (p *Pipeline) transition(to component.State) {
	p.state = to
	close(p.changed)
	p.changed = make(chan struct{})
}

// Run starts the pipeline, or resumes it when paused.
//
// With a schedule, Run loops until Stop or ctx is done, invoking the callback
// once per tick. With a source, Run arms it and blocks until it stops or
// pauses. Otherwise the callback runs once. Callback failures are logged and
// swallowed; setup failures such as a bad schedule are returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case component.StatePaused:
		p.transition(component.StateRunning)
		listeners := append([]component.Source(nil), p.listeners...)
		p.mu.Unlock()
		return p.resume(ctx, listeners)
	case component.StateRunning:
		p.mu.Unlock()
		return nil
	}
	p.transition(component.StateRunning)
	p.startedAt = time.Now()
	p.mu.Unlock()

	var err error
	switch {
	case p.interval != "" || p.cron != "":
		err = p.runScheduled(ctx)
	case p.sourceURI != "":
		err = p.runSource(ctx)
	default:
		p.logger.Info("PIPELINE running once")
		p.invoke(ctx, nil)
	}

	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("PIPELINE run failed", "error", err)
		}
		_ = p.Stop()
		return err
	}
	return nil
}

func (p *Pipeline) resume(ctx context.Context, listeners []component.Source) error {
	for _, l := range listeners {
		if !l.Paused() {
			continue
		}
		if err := l.Run(ctx, false, nil); err != nil {
			p.logger.Error("PIPELINE resume failed", "source", l.Name(), "error", err)
			return errors.Wrap(err, "Pipeline", "Run", "resume "+l.Name())
		}
	}
	p.logger.Info("PIPELINE resumed")
	return nil
}

// schedule is resolved on every tick so a bad expression surfaces on Run.
func (p *Pipeline) schedule() (Schedule, error) {
	switch {
	case p.interval != "" && p.cron != "":
		return nil, badSchedule(fmt.Errorf("both interval %s and cron %s set", p.interval, p.cron))
	case p.cron != "":
		c, err := ParseCron(p.cron)
		if err != nil {
			return nil, badSchedule(err)
		}
		return c, nil
	default:
		d, err := ParseDuration(p.interval)
		if err != nil {
			return nil, badSchedule(err)
		}
		return d, nil
	}
}

func badSchedule(err error) error {
	return errors.NewConfigurationError("PIPELINE - bad schedule", err)
}

func (p *Pipeline) runScheduled(ctx context.Context) error {
	for {
		sched, err := p.schedule()
		if err != nil {
			return err
		}

		now := time.Now()
		next := sched.Next(now)
		if !next.After(now) {
			return badSchedule(fmt.Errorf("%v has no run after %s", sched, now.Format(time.RFC3339)))
		}

		wait := next.Sub(now)
		p.logger.Info("PIPELINE next run", "in", wait.String())
		if !p.sleep(ctx, wait) {
			return p.exit(ctx)
		}

		if !p.awaitRunning(ctx) {
			return p.exit(ctx)
		}
		p.invoke(ctx, nil)
	}
}

// exit is nil once Stop was called, otherwise the context error.
func (p *Pipeline) exit(ctx context.Context) error {
	if p.State() == component.StateStopped {
		return nil
	}
	return ctx.Err()
}

// sleep returns false when the pipeline stopped or ctx ended first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		p.mu.Lock()
		state, changed := p.state, p.changed
		p.mu.Unlock()
		if state == component.StateStopped {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-changed:
		}
	}
}

// awaitRunning holds a paused pipeline until it is resumed.
func (p *Pipeline) awaitRunning(ctx context.Context) bool {
	for {
		p.mu.Lock()
		state, changed := p.state, p.changed
		p.mu.Unlock()

		switch state {
		case component.StateRunning:
			return true
		case component.StatePaused:
			select {
			case <-ctx.Done():
				return false
			case <-changed:
			}
		default:
			return false
		}
	}
}

func (p *Pipeline) runSource(ctx context.Context) error {
	deps := p.deps
	deps.Logger = p.deps.GetLogger()
	if deps.Brokers == nil {
		p.mu.Lock()
		p.pool = componentregistry.NewBrokerPool(deps.Logger, deps.MetricsRegistry)
		deps.Brokers = p.pool
		p.mu.Unlock()
	}

	src, err := p.open(p.sourceURI, p.sourceOpts, deps)
	if err != nil {
		return errors.NewConfigurationError("PIPELINE - bad source", err)
	}
	src.OnMessage(func(ctx context.Context, in *input.Reader, out *record.Record, payload any) (any, error) {
		p.logger.Debug("PIPELINE triggered", "source", src.Name(), "payload", fmt.Sprintf("%.120v", payload))
		if err := p.call(ctx, in, out, payload); err != nil {
			return nil, err
		}
		return out, nil
	})

	p.mu.Lock()
	if p.state != component.StateRunning {
		p.mu.Unlock()
		return src.Stop()
	}
	p.listeners = append(p.listeners, src)
	p.mu.Unlock()

	p.runCount.Add(1)
	if err := src.Run(ctx, true, nil); err != nil {
		if p.State() == component.StateStopped {
			return nil
		}
		return err
	}
	return nil
}

// invoke runs the callback for a tick or a one-shot run. Failures end here.
func (p *Pipeline) invoke(ctx context.Context, payload any) {
	p.runCount.Add(1)
	if err := p.call(ctx, p.deps.Reader, record.New(), payload); err != nil {
		p.logger.Error("PIPELINE callback failed", "error", err)
	}
}

func (p *Pipeline) call(ctx context.Context, in *input.Reader, out *record.Record, payload any) (err error) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return nil
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Recover(r)
		}
		elapsed := time.Since(start)
		p.noteRun(start, err)
		p.metrics.observe(p.name, elapsed, err)
		p.logger.Info("PIPELINE ran", "duration_ms", elapsed.Milliseconds())
	}()
	return h(ctx, in, out, payload)
}

func (p *Pipeline) noteRun(at time.Time, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRun = at
	p.lastFailed = err != nil
	if err != nil {
		p.lastErr = err
		p.errorCount++
	}
}

// Health reports the state and run history of the pipeline.
func (p *Pipeline) Health() health.Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := health.Report{
		Running:    p.state == component.StateRunning || p.state == component.StatePaused,
		Paused:     p.state == component.StatePaused,
		StartedAt:  p.startedAt,
		LastRun:    p.lastRun,
		Runs:       p.runCount.Load(),
		ErrorCount: p.errorCount,
		LastFailed: p.lastFailed,
	}
	if p.lastErr != nil {
		r.LastError = p.lastErr.Error()
	}
	return r
}

// Pause holds the schedule and pauses every source. Only a running pipeline
// can be paused. When a source refuses, the sources already paused are
// resumed and the pipeline stays running.
func (p *Pipeline) Pause() error {
	p.mu.Lock()
	if p.state != component.StateRunning {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s: pause from %s: %w", p.name, state, errors.ErrInvalidTransition)
	}
	listeners := append([]component.Source(nil), p.listeners...)
	p.mu.Unlock()

	var paused []component.Source
	for _, l := range listeners {
		if !l.Running() {
			continue
		}
		if err := l.Pause(); err != nil {
			p.logger.Error("PIPELINE pause failed", "source", l.Name(), "error", err)
			for _, r := range paused {
				if rerr := r.Run(context.Background(), false, nil); rerr != nil {
					p.logger.Error("PIPELINE resume failed", "source", r.Name(), "error", rerr)
				}
			}
			return err
		}
		paused = append(paused, l)
	}

	p.mu.Lock()
	if p.state == component.StateRunning {
		p.transition(component.StatePaused)
	}
	p.mu.Unlock()
	p.logger.Info("PIPELINE paused")
	return nil
}

// Stop stops every source and closes the broker pool the pipeline created.
// A stopped pipeline can be run again with fresh sources.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state == component.StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.transition(component.StateStopped)
	listeners := p.listeners
	pool := p.pool
	p.listeners, p.pool = nil, nil
	p.mu.Unlock()

	var firstErr error
	for _, l := range listeners {
		if err := l.Stop(); err != nil {
			p.logger.Error("PIPELINE stop failed", "source", l.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.Close(ctx); err != nil {
			p.logger.Warn("PIPELINE broker pool close failed", "error", err)
		}
	}

	p.logger.Info("PIPELINE stopped", "runs", p.RunCount())
	return firstErr
}
