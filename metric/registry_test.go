package metric

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})

	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(1.5)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_counter"])
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_histogram"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", counter1))

	err := registry.RegisterCounter("service1", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = registry.RegisterCounter("service2", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_UnregisterMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "unregister_counter", Help: "u"})
	require.NoError(t, registry.RegisterCounter("svc", "unregister_counter", counter))
	assert.True(t, gatheredNames(t, registry)["unregister_counter"])

	assert.True(t, registry.Unregister("svc", "unregister_counter"))
	assert.False(t, gatheredNames(t, registry)["unregister_counter"])
	assert.False(t, registry.Unregister("svc", "unregister_counter"))
}

func TestMetricsRegistry_CounterVecIsShared(t *testing.T) {
	registry := NewMetricsRegistry()
	opts := prometheus.CounterOpts{Namespace: Namespace, Subsystem: "rules", Name: "evaluations_total", Help: "e"}

	first, err := registry.CounterVec("rules", "evaluations_total", opts, "status")
	require.NoError(t, err)
	second, err := registry.CounterVec("rules", "evaluations_total", opts, "status")
	require.NoError(t, err)

	assert.Same(t, first, second)

	first.WithLabelValues("ok").Inc()
	second.WithLabelValues("ok").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(first.WithLabelValues("ok")))
}

func TestMetricsRegistry_HistogramVecTypeMismatch(t *testing.T) {
	registry := NewMetricsRegistry()

	_, err := registry.CounterVec("svc", "mixed", prometheus.CounterOpts{Name: "mixed_total", Help: "m"}, "l")
	require.NoError(t, err)

	_, err = registry.HistogramVec("svc", "mixed", prometheus.HistogramOpts{Name: "mixed_seconds", Help: "m"}, "l")
	assert.Error(t, err)
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const goroutines = 10
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			assert.NoError(t, registry.RegisterCounter("concurrent", name, counter))
		}(i)
	}
	wg.Wait()

	names := gatheredNames(t, registry)
	for i := 0; i < goroutines; i++ {
		assert.True(t, names[fmt.Sprintf("concurrent_counter_%d", i)])
	}
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "interface_counter", Help: "i"})
	require.NoError(t, registrar.RegisterCounter("iface", "interface_counter", counter))
}

func TestCoreMetrics_Recorded(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordSourceState("dir", 1)
	core.RecordMessageReceived("dir")
	core.RecordDispatch("dir", "ok", 10*time.Millisecond)
	core.RecordPublished("file", "ok")
	core.RecordError("dir", "handler")
	core.RecordBrokerStatus("nats", true)
	core.RecordBrokerReconnect("nats")
	core.RecordCircuitBreakerState("nats", 0)

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"datacollector_source_state",
		"datacollector_messages_received_total",
		"datacollector_messages_handled_total",
		"datacollector_dispatch_duration_seconds",
		"datacollector_messages_published_total",
		"datacollector_errors_total",
		"datacollector_broker_connected",
		"datacollector_broker_reconnects_total",
		"datacollector_broker_circuit_breaker",
	} {
		assert.True(t, names[name], "core metric %s should be gathered", name)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(core.MessagesHandled.WithLabelValues("dir", "ok")))
}
