package rules

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/datacollector/metric"
)

type engineMetrics struct {
	evaluations *prometheus.CounterVec
	duration    prometheus.Observer
}

// newEngineMetrics returns nil when registry is nil.
func newEngineMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *engineMetrics {
	if registry == nil {
		return nil
	}

	evaluations, err := registry.CounterVec("rules", "evaluations_total", prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "rules",
		Name:      "evaluations_total",
		Help:      "Rule tree evaluations by outcome",
	}, "status")
	if err != nil {
		logger.Warn("rule metrics disabled", "error", err)
		return nil
	}

	duration, err := registry.HistogramVec("rules", "duration_seconds", prometheus.HistogramOpts{
		Namespace: metric.Namespace,
		Subsystem: "rules",
		Name:      "duration_seconds",
		Help:      "Rule tree evaluation duration",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})
	if err != nil {
		logger.Warn("rule metrics disabled", "error", err)
		return nil
	}

	return &engineMetrics{
		evaluations: evaluations,
		duration:    duration.WithLabelValues(),
	}
}

func (m *engineMetrics) observe(start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.evaluations.WithLabelValues(status).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}
