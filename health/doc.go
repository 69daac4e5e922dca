// Package health reports the health of pipelines and aggregates it into a
// system status.
//
// # Health States
//
// A pipeline is healthy while it runs and its latest run succeeded, degraded
// while paused or after a failed run, and unhealthy once stopped. The system
// aggregate takes the worst state of its pipelines.
//
// # Usage
//
//	monitor := health.NewMonitor("datacollector")
//	monitor.Register(p.Name(), func() health.Status {
//	    return health.FromReport(p.Name(), p.Health())
//	})
//	server.Handle("/health", monitor)
//
// Error messages are sanitized by FromReport: URLs, file paths, addresses,
// ports and credential assignments are replaced by placeholders before they
// reach the HTTP response.
package health
