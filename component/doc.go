// Package component provides the source and sink contracts, the lifecycle
// state machine every source embeds, and the scheme-keyed registry used to
// open them from URIs.
//
// # Lifecycle
//
// A Source moves through idle, running, paused and stopped:
//
//	idle    --Run-->   running
//	running --Pause--> paused  --Run--> running
//	any     --Stop-->  stopped (terminal; Run returns errors.ErrAlreadyStopped)
//
// Concrete sources embed *Lifecycle and pass Hooks that arm and release
// their transport. Incoming messages go through Lifecycle.HandleMessage,
// which waits while paused, drops messages after Stop, gives each dispatch
// a fresh record.Record and never lets a handler error or panic escape.
//
// # Registration
//
// Each source or sink package exports Register(*Registry) error.
// componentregistry.Register calls all of them; the CLI and pipelines then
// open components by URI:
//
//	src, err := registry.OpenSource("amqp://localhost?channel=jobs", nil, deps)
//	sink, err := registry.OpenSink(ctx, "file:///tmp/out.json", opts, deps)
//
// # Dependencies
//
// Dependencies carries the broker pool, the shared input.Reader, the
// metrics registry and the logger. Every field may be nil.
//
// URIs are parsed with input.ParseURI, so a bare path opens a file source
// or sink.
package component
