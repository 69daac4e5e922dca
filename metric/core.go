package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every datacollector metric.
const Namespace = "datacollector"

// Metrics contains the collector-wide metrics shared by every source and sink.
type Metrics struct {
	// Source metrics
	SourceState       *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MessagesHandled   *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	MessagesPublished *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	// Broker metrics
	BrokerConnected      *prometheus.GaugeVec
	BrokerReconnects     *prometheus.CounterVec
	BrokerCircuitBreaker *prometheus.GaugeVec
}

// NewMetrics creates the core metric set. Collectors are registered by
// NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		SourceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "source",
				Name:      "state",
				Help:      "Source lifecycle state (0=idle, 1=running, 2=paused, 3=stopped)",
			},
			[]string{"source"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages delivered to a source",
			},
			[]string{"source"},
		),

		MessagesHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "handled_total",
				Help:      "Total number of dispatched messages by outcome",
			},
			[]string{"source", "status"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Handler dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of values written to sinks",
			},
			[]string{"sink", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		BrokerConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
			[]string{"broker"},
		),

		BrokerReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnections",
			},
			[]string{"broker"},
		),

		BrokerCircuitBreaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "circuit_breaker",
				Help:      "Broker circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
			[]string{"broker"},
		),
	}
}

func (c *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.SourceState,
		c.MessagesReceived,
		c.MessagesHandled,
		c.DispatchDuration,
		c.MessagesPublished,
		c.ErrorsTotal,
		c.BrokerConnected,
		c.BrokerReconnects,
		c.BrokerCircuitBreaker,
	)
}

// RecordSourceState updates the lifecycle state gauge
func (c *Metrics) RecordSourceState(source string, state int) {
	c.SourceState.WithLabelValues(source).Set(float64(state))
}

// RecordMessageReceived increments the received counter
func (c *Metrics) RecordMessageReceived(source string) {
	c.MessagesReceived.WithLabelValues(source).Inc()
}

// RecordDispatch records the outcome and duration of one handler dispatch
func (c *Metrics) RecordDispatch(source, status string, duration time.Duration) {
	c.MessagesHandled.WithLabelValues(source, status).Inc()
	c.DispatchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordPublished increments the sink publish counter
func (c *Metrics) RecordPublished(sink, status string) {
	c.MessagesPublished.WithLabelValues(sink, status).Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordBrokerStatus updates the broker connection gauge
func (c *Metrics) RecordBrokerStatus(broker string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	c.BrokerConnected.WithLabelValues(broker).Set(v)
}

// RecordBrokerReconnect increments the reconnection counter
func (c *Metrics) RecordBrokerReconnect(broker string) {
	c.BrokerReconnects.WithLabelValues(broker).Inc()
}

// RecordCircuitBreakerState updates the circuit breaker gauge
func (c *Metrics) RecordCircuitBreakerState(broker string, state int) {
	c.BrokerCircuitBreaker.WithLabelValues(broker).Set(float64(state))
}
