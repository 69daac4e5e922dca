// Package errors provides standardized error handling for datacollector components.
//
// # Overview
//
// The package implements a three-class classification: Transient (temporary,
// retryable), Invalid (bad input, non-retryable) and Fatal (unrecoverable, stop
// processing). Components make retry and shutdown decisions from the class rather
// than from error strings.
//
// On top of the classification it defines the toolkit's error taxonomy:
//
//   - ConfigurationError: setup-time failures (bad schedule, malformed URI).
//     Always fatal, returned to whoever called Run.
//   - RuleEvaluationError: extraction or transform failure, tagged with the
//     output key being evaluated. Fatal to one rule run.
//   - DispatchError: a message handler failed inside a source. Logged and
//     counted at the dispatch boundary, never returned to the event source.
//   - ErrUnsupportedOperation: returned by UnsupportedOperation, e.g. pausing
//     an RPC responder.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// through Wrap, WrapTransient, WrapInvalid and WrapFatal:
//
//	if err := decode(data); err != nil {
//	    return errors.WrapInvalid(err, "Reader", "FromURI", "decode json")
//	}
//
// # Panics
//
// Recover turns a recovered panic value into a *PanicError carrying the stack,
// so dispatch and schedule loops can log panics like any other failure:
//
//	defer func() {
//	    if err := errors.Recover(recover()); err != nil {
//	        logger.Error("handler panicked", "error", err)
//	    }
//	}()
//
// # Integration with errors.As/Is
//
// Every type here supports standard library inspection. ConfigurationError
// matches ErrInvalidConfig through errors.Is.
package errors
