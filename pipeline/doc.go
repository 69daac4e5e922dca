// Package pipeline composes a trigger with a callback.
//
// A Pipeline has at most one trigger:
//
//   - a schedule: an ISO8601 duration (WithSchedule("PT5M")) or a cron
//     expression (WithCron("0 * * * *")). The callback runs once per tick.
//   - an event source (WithSource("file:///data/in", nil)) opened through
//     componentregistry. The callback runs once per event.
//   - nothing: Run invokes the callback once.
//
// Callback errors and panics are logged and swallowed so the schedule or
// subscription keeps going. Setup failures, such as an unparsable schedule,
// are returned from Run as *errors.ConfigurationError:
//
//	p := pipeline.New(pipeline.WithName("daily"), pipeline.WithSchedule("P1D"))
//	p.OnMessage(func(ctx context.Context, in *input.Reader, out *record.Record, _ any) error {
//	    data, err := in.FromURI(ctx, "https://example.org/feed.json", nil)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = rules.Run(ctx, set, data, out, nil)
//	    return err
//	})
//	err := p.Run(ctx) // blocks until Stop or ctx is done
//
// Pause holds ticks and pauses sources; a later Run resumes them. Stop
// releases sources and the broker pool the pipeline created.
package pipeline
