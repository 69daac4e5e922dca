package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/record"
)

// State represents the current lifecycle state of a source
type State int

const (
	// StateIdle indicates the source was created but never run
	StateIdle State = iota
	// StateRunning indicates the source is listening and dispatching
	StateRunning
	// StatePaused indicates dispatch is held while the subscription stays open
	StatePaused
	// StateStopped is terminal
	StateStopped
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultPollInterval is how often a blocking Run wakes up to call onTick.
const DefaultPollInterval = 2 * time.Second

// Handler processes one message. in reads further resources, out is a fresh
// record for this dispatch only. The result is returned to callers that
// reply, such as RPC responders.
type Handler func(ctx context.Context, in *input.Reader, out *record.Record, payload any) (any, error)

// Source is an event-driven input with a lifecycle.
type Source interface {
	Name() string
	Run(ctx context.Context, blocking bool, onTick func()) error
	Pause() error
	Stop() error
	OnMessage(h Handler)
	State() State
	Running() bool
	Paused() bool
	Stopped() bool
}

// Sink accepts values for an external destination.
type Sink interface {
	Publish(ctx context.Context, v any) (any, error)
	Close() error
}

// Hooks connect a Lifecycle to the transport of a concrete source.
type Hooks struct {
	// Start arms the listener. It must not block.
	Start func(ctx context.Context) error
	// Stop releases the listener.
	Stop func() error
	// Alive reports whether the listener is still delivering. Nil means
	// always alive.
	Alive func() bool
}

// Lifecycle is the state machine shared by every source. Concrete sources
// embed it and supply Hooks.
type Lifecycle struct {
	name         string
	logger       *slog.Logger
	metrics      *metric.Metrics
	reader       *input.Reader
	hooks        Hooks
	pollInterval time.Duration

	mu      sync.Mutex
	state   State
	changed chan struct{}
	handler Handler
}

// NewLifecycle creates an idle lifecycle for the source called name.
func NewLifecycle(name string, deps Dependencies, hooks Hooks) *Lifecycle {
	l := &Lifecycle{
		name:         name,
		logger:       deps.GetLoggerWithComponent(name),
		reader:       deps.GetReader(),
		hooks:        hooks,
		pollInterval: DefaultPollInterval,
		changed:      make(chan struct{}),
	}
	if deps.MetricsRegistry != nil {
		l.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return l
}

// SetPollInterval changes the blocking Run wake-up interval.
func (l *Lifecycle) SetPollInterval(d time.Duration) {
	if d > 0 {
		l.pollInterval = d
	}
}

// Name returns the source name.
func (l *Lifecycle) Name() string {
	return l.name
}

// Logger returns the source logger.
func (l *Lifecycle) Logger() *slog.Logger {
	return l.logger
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Running reports whether the source is running and its listener alive.
func (l *Lifecycle) Running() bool {
	if l.State() != StateRunning {
		return false
	}
	return l.hooks.Alive == nil || l.hooks.Alive()
}

// Paused reports whether dispatch is held.
func (l *Lifecycle) Paused() bool {
	return l.State() == StatePaused
}

// Stopped reports whether the source reached its terminal state.
func (l *Lifecycle) Stopped() bool {
	return l.State() == StateStopped
}

// transition must be called with mu held.
func (l *Lifecycle) transition(to State) {
	l.state = to
	close(l.changed)
	l.changed = make(chan struct{})
	if l.metrics != nil {
		l.metrics.RecordSourceState(l.name, int(to))
	}
}

// Run starts or resumes the source. With blocking set it returns only once
// the source leaves the running state or ctx is done, calling onTick every
// poll interval meanwhile.
func (l *Lifecycle) Run(ctx context.Context, blocking bool, onTick func()) error {
	l.mu.Lock()
	switch l.state {
	case StateStopped:
		l.mu.Unlock()
		return errors.ErrAlreadyStopped
	case StateIdle:
		l.transition(StateRunning)
		l.mu.Unlock()
		if l.hooks.Start != nil {
			if err := l.hooks.Start(ctx); err != nil {
				l.mu.Lock()
				if l.state == StateRunning {
					l.transition(StateIdle)
				}
				l.mu.Unlock()
				return errors.Wrap(err, l.name, "Run", "start listener")
			}
		}
		l.logger.Info("source running")
	case StatePaused:
		l.transition(StateRunning)
		l.mu.Unlock()
		l.logger.Info("source resumed")
	default:
		l.mu.Unlock()
	}

	if !blocking {
		return nil
	}
	return l.wait(ctx, onTick)
}

func (l *Lifecycle) wait(ctx context.Context, onTick func()) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		l.mu.Lock()
		changed := l.changed
		l.mu.Unlock()

		if !l.Running() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
			if onTick != nil {
				onTick()
			}
		}
	}
}

// Pause holds dispatch. Only a running source can be paused.
func (l *Lifecycle) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateRunning {
		return fmt.Errorf("%s: pause from %s: %w", l.name, l.state, errors.ErrInvalidTransition)
	}
	l.transition(StatePaused)
	l.logger.Info("source paused")
	return nil
}

// Stop releases the listener. Stopping twice is a no-op.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	prev := l.state
	if prev == StateStopped {
		l.mu.Unlock()
		return nil
	}
	l.transition(StateStopped)
	l.mu.Unlock()

	if prev != StateIdle && l.hooks.Stop != nil {
		if err := l.hooks.Stop(); err != nil {
			l.logger.Error("source stop failed", "error", err)
			return errors.Wrap(err, l.name, "Stop", "release listener")
		}
	}
	l.logger.Info("source stopped")
	return nil
}

// OnMessage registers the handler, replacing any previous one.
func (l *Lifecycle) OnMessage(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// dispatchable waits while the source is paused. It returns the handler or
// the reason the message must be dropped.
func (l *Lifecycle) dispatchable(ctx context.Context) (Handler, error) {
	for {
		l.mu.Lock()
		state, changed, h := l.state, l.changed, l.handler
		l.mu.Unlock()

		switch state {
		case StateStopped:
			return nil, errors.ErrAlreadyStopped
		case StatePaused:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-changed:
			}
		default:
			if h == nil {
				return nil, errors.ErrNoHandler
			}
			return h, nil
		}
	}
}

// HandleMessage dispatches payload to the registered handler with a fresh
// record. Handler errors and panics are logged and counted, never returned.
// The result is nil when the handler failed or the message was dropped.
func (l *Lifecycle) HandleMessage(ctx context.Context, payload any) any {
	result, _ := l.Dispatch(ctx, payload)
	return result
}

// Dispatch is HandleMessage for callers that report failures back, such as
// RPC responders. The error is a *errors.DispatchError, or the reason the
// message was dropped.
func (l *Lifecycle) Dispatch(ctx context.Context, payload any) (any, error) {
	start := time.Now()
	if l.metrics != nil {
		l.metrics.RecordMessageReceived(l.name)
	}

	h, err := l.dispatchable(ctx)
	if err != nil {
		l.logger.Debug("INPUT message dropped", "state", l.State().String(), "reason", err)
		return nil, err
	}

	result, err := l.invoke(ctx, h, payload)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		err = &errors.DispatchError{Component: l.name, Err: err}
		l.logger.Error("INPUT handler failed", "error", err)
		if l.metrics != nil {
			l.metrics.RecordError(l.name, "handler")
		}
	}
	if l.metrics != nil {
		l.metrics.RecordDispatch(l.name, status, elapsed)
	}
	l.logger.Info("INPUT handled", "status", status, "duration_ms", elapsed.Milliseconds())

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Lifecycle) invoke(ctx context.Context, h Handler, payload any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, errors.Recover(r)
		}
	}()
	return h(ctx, l.reader, record.New(), payload)
}
