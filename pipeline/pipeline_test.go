package pipeline

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/broker/brokertest"
	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/record"
)

func noop(context.Context, *input.Reader, *record.Record, any) error { return nil }

func TestPipeline_RunOnce(t *testing.T) {
	p := New()
	var calls int
	p.OnMessage(func(_ context.Context, in *input.Reader, out *record.Record, payload any) error {
		calls++
		assert.NotNil(t, in)
		assert.Equal(t, 0, out.Len())
		assert.Nil(t, payload)
		return nil
	})

	assert.True(t, p.Stopped())
	assert.False(t, p.Running())
	assert.Equal(t, component.StateIdle, p.State())
	assert.NotEmpty(t, p.Name())

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), p.RunCount())
	assert.True(t, p.Running())
}

func TestPipeline_PauseResume(t *testing.T) {
	p := New(WithName("pause-resume"))
	p.OnMessage(noop)

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, p.Running())

	require.NoError(t, p.Pause())
	assert.True(t, p.Running())
	assert.True(t, p.Paused())
	assert.False(t, p.Stopped())

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, p.Running())
	assert.False(t, p.Paused())
	assert.False(t, p.Stopped())
	assert.Equal(t, int64(1), p.RunCount())

	require.NoError(t, p.Stop())
	assert.False(t, p.Running())
	assert.False(t, p.Paused())
	assert.True(t, p.Stopped())
	assert.Equal(t, int64(1), p.RunCount())
}

func TestPipeline_PauseRequiresRunning(t *testing.T) {
	p := New()
	assert.ErrorIs(t, p.Pause(), errors.ErrInvalidTransition)

	require.NoError(t, p.Stop())
	assert.ErrorIs(t, p.Pause(), errors.ErrInvalidTransition)
}

func TestPipeline_RunAgainAfterStop(t *testing.T) {
	p := New()
	p.OnMessage(noop)

	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int64(2), p.RunCount())
}

func TestPipeline_ScheduleStopsItself(t *testing.T) {
	p := New(WithSchedule("PT0.05S"))
	counter := 0
	p.OnMessage(func(_ context.Context, _ *input.Reader, out *record.Record, _ any) error {
		counter++
		out.Set("counter", counter)
		if counter >= 2 {
			return p.Stop()
		}
		return nil
	})

	start := time.Now()
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 2, counter)
	assert.Equal(t, int64(2), p.RunCount())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, p.Stopped())
}

func TestPipeline_BadSchedule(t *testing.T) {
	p := New(WithSchedule("Blabla"))
	p.OnMessage(noop)

	err := p.Run(context.Background())
	require.Error(t, err)

	var cfgErr *errors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.EqualError(t, err, "PIPELINE - bad schedule: unknown pattern Blabla")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Zero(t, p.RunCount())
	assert.True(t, p.Stopped())
}

func TestPipeline_BadCron(t *testing.T) {
	p := New(WithCron("every day"))
	err := p.Run(context.Background())

	var cfgErr *errors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "PIPELINE - bad schedule:")
}

func TestPipeline_ScheduleAndCronConflict(t *testing.T) {
	p := New(WithSchedule("PT1S"), WithCron("* * * * *"))
	err := p.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestPipeline_ZeroScheduleRejected(t *testing.T) {
	p := New(WithSchedule("PT0S"))
	err := p.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestPipeline_CronTick(t *testing.T) {
	p := New(WithCron("* * * * * * *"))
	var counter int
	p.OnMessage(func(context.Context, *input.Reader, *record.Record, any) error {
		counter++
		return p.Stop()
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, counter)
	assert.Equal(t, int64(1), p.RunCount())
}

func TestPipeline_TickFailuresAreSwallowed(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	p := New(WithName("flaky"), WithSchedule("PT0.02S"), WithMetrics(registry))

	var ticks int
	p.OnMessage(func(context.Context, *input.Reader, *record.Record, any) error {
		ticks++
		switch ticks {
		case 1:
			panic("boom")
		case 2:
			return stderrors.New("tick failed")
		default:
			return p.Stop()
		}
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 3, ticks)
	assert.Equal(t, int64(3), p.RunCount())
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.runs.WithLabelValues("flaky", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.runs.WithLabelValues("flaky", "ok")))
}

func TestPipeline_ContextEndsSchedule(t *testing.T) {
	p := New(WithSchedule("PT1H"))
	p.OnMessage(noop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, p.Stopped())
	assert.Zero(t, p.RunCount())
}

func TestPipeline_PauseHoldsTicks(t *testing.T) {
	p := New(WithSchedule("PT0.02S"))
	var ticks atomic.Int64
	p.OnMessage(func(context.Context, *input.Reader, *record.Record, any) error {
		ticks.Add(1)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Pause())

	// Let any tick that was already past the pause check finish.
	time.Sleep(30 * time.Millisecond)
	held := ticks.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, held, ticks.Load())

	require.NoError(t, p.Run(context.Background()))
	require.Eventually(t, func() bool { return ticks.Load() > held }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduled run did not return after Stop")
	}
}

// fakeSource records how the pipeline opened it.
type fakeSource struct {
	*component.Lifecycle
	uri  string
	opts map[string]any
	deps component.Dependencies
}

func fakeOpener(t *testing.T) (Opener, func() *fakeSource) {
	t.Helper()
	var (
		mu   sync.Mutex
		last *fakeSource
	)
	open := func(uri string, opts map[string]any, deps component.Dependencies) (component.Source, error) {
		src := &fakeSource{uri: uri, opts: opts, deps: deps}
		src.Lifecycle = component.NewLifecycle("fake", deps, component.Hooks{})
		mu.Lock()
		last = src
		mu.Unlock()
		return src, nil
	}
	get := func() *fakeSource {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
	return open, get
}

func TestPipeline_SourceLifecycle(t *testing.T) {
	open, last := fakeOpener(t)
	p := New(WithSource("amqp://localhost?channel=in", map[string]any{"durable": "d1"}), WithOpener(open))

	var got []any
	var mu sync.Mutex
	p.OnMessage(func(_ context.Context, in *input.Reader, out *record.Record, payload any) error {
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
		out.Set("seen", payload)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		src := last()
		return src != nil && src.Running()
	}, time.Second, 5*time.Millisecond)

	src := last()
	assert.Equal(t, "amqp://localhost?channel=in", src.uri)
	assert.Equal(t, "d1", src.opts["durable"])
	assert.NotNil(t, src.deps.Brokers)
	assert.NotNil(t, src.deps.Reader)
	assert.Equal(t, int64(1), p.RunCount())

	result, err := src.Dispatch(context.Background(), "a.json")
	require.NoError(t, err)
	out, ok := result.(*record.Record)
	require.True(t, ok)
	assert.Equal(t, "a.json", out.Get("seen"))

	// Pausing the pipeline pauses the source and ends the blocking Run.
	require.NoError(t, p.Pause())
	assert.True(t, src.Paused())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Pause")
	}

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, src.Running())
	assert.Equal(t, int64(1), p.RunCount())

	require.NoError(t, p.Stop())
	assert.True(t, src.Stopped())

	mu.Lock()
	assert.Equal(t, []any{"a.json"}, got)
	mu.Unlock()
}

func TestPipeline_SourceCallbackErrorReachesDispatcher(t *testing.T) {
	open, last := fakeOpener(t)
	p := New(WithSource("rpc+amqp://localhost/ex/q", nil), WithOpener(open))
	p.OnMessage(func(context.Context, *input.Reader, *record.Record, any) error {
		return stderrors.New("bad payload")
	})

	go func() { _ = p.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		src := last()
		return src != nil && src.Running()
	}, time.Second, 5*time.Millisecond)
	defer p.Stop()

	_, err := last().Dispatch(context.Background(), 2)
	var dispatchErr *errors.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Contains(t, err.Error(), "bad payload")
	assert.True(t, p.Running())
}

func TestPipeline_PauseRefusedByResponder(t *testing.T) {
	m := brokertest.NewMemory()
	deps := component.Dependencies{Brokers: broker.NewPool(broker.WithDialer("amqp", m.Dialer()))}
	p := New(WithSource("rpc+amqp://rabbit/exchange/queue", nil), WithDependencies(deps))
	p.OnMessage(func(_ context.Context, _ *input.Reader, out *record.Record, payload any) error {
		out.Set("echo", payload)
		return nil
	})

	go func() { _ = p.Run(context.Background()) }()
	defer p.Stop()

	ask := func() ([]byte, error) {
		return m.Request(context.Background(), "exchange", "queue", []byte(`"ping"`))
	}
	require.Eventually(t, func() bool {
		_, err := ask()
		return err == nil
	}, time.Second, 5*time.Millisecond)

	err := p.Pause()
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
	assert.Equal(t, component.StateRunning, p.State())
	assert.True(t, p.Running())
	assert.False(t, p.Paused())

	reply, err := ask()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"echo":"ping"}}`, string(reply))
}

func TestPipeline_UnsupportedSource(t *testing.T) {
	p := New(WithSource("ftp://example.com/in", nil))
	err := p.Run(context.Background())

	var cfgErr *errors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, errors.ErrUnsupportedScheme)
	assert.True(t, p.Stopped())
}

func TestPipeline_DirectorySource(t *testing.T) {
	dir := t.TempDir()
	p := New(WithSource("file://"+dir, map[string]any{"pattern": "*.json", "latency": "20ms"}))

	files := make(chan string, 4)
	p.OnMessage(func(_ context.Context, in *input.Reader, out *record.Record, payload any) error {
		name, _ := payload.(string)
		data, err := in.FromURI(context.Background(), name, nil)
		if err != nil {
			return err
		}
		out.Set("data", data)
		files <- name
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	require.Eventually(t, func() bool { return p.RunCount() == 1 }, time.Second, 5*time.Millisecond)
	// RunCount is bumped just before the watch is armed.
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "item.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": 1}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o600))

	select {
	case name := <-files:
		assert.Equal(t, path, name)
	case <-time.After(2 * time.Second):
		t.Fatal("no dispatch for new file")
	}

	require.NoError(t, p.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Len(t, files, 0)
}

func TestPipeline_RunMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	p := New(WithName("metered"), WithMetrics(registry))
	p.OnMessage(noop)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.runs.WithLabelValues("metered", "ok")))

	// A second pipeline on the same registry shares the collectors.
	other := New(WithName("other"), WithMetrics(registry))
	other.OnMessage(noop)
	require.NoError(t, other.Run(context.Background()))
	assert.Same(t, p.metrics.runs, other.metrics.runs)
}

func TestPipeline_Health(t *testing.T) {
	p := New(WithName("health"))
	fail := true
	p.OnMessage(func(context.Context, *input.Reader, *record.Record, any) error {
		if fail {
			return stderrors.New("fetch failed")
		}
		return nil
	})

	r := p.Health()
	assert.False(t, r.Running)
	assert.True(t, r.StartedAt.IsZero())

	require.NoError(t, p.Run(context.Background()))
	r = p.Health()
	assert.True(t, r.Running)
	assert.False(t, r.StartedAt.IsZero())
	assert.False(t, r.LastRun.IsZero())
	assert.True(t, r.LastFailed)
	assert.Equal(t, "fetch failed", r.LastError)
	assert.Equal(t, int64(1), r.ErrorCount)
	assert.Equal(t, int64(1), r.Runs)

	require.NoError(t, p.Stop())
	fail = false
	require.NoError(t, p.Run(context.Background()))
	r = p.Health()
	assert.False(t, r.LastFailed)
	assert.Equal(t, "fetch failed", r.LastError, "last error is kept after recovery")
	assert.Equal(t, int64(2), r.Runs)

	require.NoError(t, p.Pause())
	assert.True(t, p.Health().Paused)
}
