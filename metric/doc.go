// Package metric provides Prometheus-based metrics collection and the HTTP
// server that exposes them.
//
// # Architecture
//
//  1. Core metrics: collector-wide series for sources, sinks and brokers
//     (Metrics type), registered when the registry is created.
//  2. Component registry: keyed registration of component-specific metrics
//     (MetricsRegistrar interface). CounterVec and HistogramVec return the
//     already registered collector when several instances share a registry.
//  3. HTTP server: /metrics and /health endpoints (Server type).
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() {
//	    if err := server.Start(ctx); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	core := registry.CoreMetrics()
//	core.RecordMessageReceived("dir")
//	core.RecordDispatch("dir", "ok", elapsed)
//
// # Nil Registry
//
// Components accept a *MetricsRegistry that may be nil. A nil registry
// disables their metrics entirely; components check for nil before recording.
//
// # Naming
//
// Every series is prefixed with the "datacollector" namespace, for example
// datacollector_messages_handled_total{source,status} and
// datacollector_pipeline_runs_total{pipeline,status}.
package metric
