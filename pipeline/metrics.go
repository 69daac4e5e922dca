package pipeline

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/datacollector/metric"
)

type runMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newRunMetrics returns nil when registry is nil.
func newRunMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *runMetrics {
	if registry == nil {
		return nil
	}

	runs, err := registry.CounterVec("pipeline", "runs_total", prometheus.CounterOpts{
		Namespace: metric.Namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline callback runs by outcome",
	}, "pipeline", "status")
	if err != nil {
		logger.Warn("pipeline metrics disabled", "error", err)
		return nil
	}

	duration, err := registry.HistogramVec("pipeline", "run_duration_seconds", prometheus.HistogramOpts{
		Namespace: metric.Namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Pipeline callback duration",
		Buckets:   prometheus.DefBuckets,
	}, "pipeline")
	if err != nil {
		logger.Warn("pipeline metrics disabled", "error", err)
		return nil
	}

	return &runMetrics{runs: runs, duration: duration}
}

func (m *runMetrics) observe(pipeline string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(pipeline, status).Inc()
	m.duration.WithLabelValues(pipeline).Observe(elapsed.Seconds())
}
