// Package retry provides exponential backoff retry logic for transient failures.
//
// # Overview
//
// HTTP reads, HTTP sink posts and broker dials all go through Do or
// DoWithResult. A failed attempt is retried until MaxAttempts is reached,
// unless the error was wrapped with NonRetryable or the optional RetryIf
// predicate rejects it.
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (HTTP reads and writes)
//   - Quick(): 10 attempts, 50ms-1s delay (broker dials)
//
// OnRetry observes every failed attempt that will be retried, which is where
// callers log:
//
//	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
//	    logger.Warn("dial failed, retrying", "attempt", attempt, "wait", wait, "error", err)
//	}
//
// # Usage
//
//	body, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() ([]byte, error) {
//	    resp, err := client.Do(req)
//	    if err != nil {
//	        return nil, err
//	    }
//	    if resp.StatusCode == http.StatusNotFound {
//	        return nil, retry.NonRetryable(errNotFound)
//	    }
//	    return io.ReadAll(resp.Body)
//	})
//
// Restricting retries to transient errors:
//
//	cfg := retry.DefaultConfig()
//	cfg.RetryIf = errors.IsTransient
//
// # Context Cancellation
//
// Do stops as soon as the context is cancelled, whether during an attempt or
// during the backoff delay.
package retry
