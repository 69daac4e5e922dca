// Package datacollector is a toolkit for collecting data from files, HTTP
// endpoints, object storage and message brokers, mapping it through
// declarative rules into records and delivering those records to sinks.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            Pipeline                 │  schedule | cron | source
//	│   (run, pause, stop, run count)     │  trigger the callback
//	└─────────────────────────────────────┘
//	           ↓ invokes
//	┌─────────────────────────────────────┐
//	│     input.Reader  →  rules.Engine   │  fetch and decode,
//	│   (file, http, s3)    (record)      │  map into a Record
//	└─────────────────────────────────────┘
//	           ↓ publishes to
//	┌─────────────────────────────────────┐
//	│             Sinks                   │  file, http, queue,
//	│    (componentregistry.OpenSink)     │  rpc, s3
//	└─────────────────────────────────────┘
//
// Event-driven pipelines are triggered by sources: a watched directory
// (input/dir), a queue consumer (input/queue) or an RPC responder
// (input/rpc). Sources share the component.Lifecycle state machine
// (idle, running, paused, stopped) and dispatch every message with a fresh
// record.Record.
//
// # Packages
//
//   - pipeline: schedules (ISO8601 durations, cron) and source-driven runs
//   - rules: rule sets, the evaluation engine and the YAML/JSON loader;
//     rules/script adds JavaScript and CEL callables
//   - record: ordered key/value records with list accumulation
//   - extract: JSONPath extraction
//   - input: URI reader and decoders (JSON, YAML, CSV, XML, tar.gz, images)
//   - output: sinks for files, HTTP, queues, RPC and S3
//   - broker: broker contracts and the connection pool; natsclient,
//     amqpclient and kafkaclient implement them
//   - component, componentregistry: lifecycle and scheme-based factories
//   - config: YAML configuration, discovery and reload
//   - health, metric: pipeline health and Prometheus metrics
//   - errors: classified errors shared by every package
//
// # Quick Start
//
//	p := pipeline.New(pipeline.WithName("feed"), pipeline.WithSchedule("PT15M"))
//	p.OnMessage(func(ctx context.Context, in *input.Reader, out *record.Record, _ any) error {
//	    data, err := in.FromURI(ctx, "https://example.org/feed.xml", nil)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = rules.Run(ctx, set, data, out, nil)
//	    return err
//	})
//	err := p.Run(ctx)
//
// The datacollector command (cmd/datacollector) builds pipelines like this
// one from a configuration file.
package datacollector
