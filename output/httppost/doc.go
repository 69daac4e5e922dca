// Package httppost provides the HTTP sink.
//
// # Overview
//
// Each published value is encoded as JSON and sent as the request body to
// the sink URI. The decoded response body is returned to the caller, using
// the same content type rules as the reader.
//
// # Quick Start
//
//	sink, err := registry.OpenSink(ctx, "https://api.example.com/events", map[string]any{
//	    "bearer_token": os.Getenv("API_TOKEN"),
//	    "headers":      map[string]any{"X-Source": "datacollector"},
//	}, deps)
//	resp, err := sink.Publish(ctx, rec)
//
// # Options
//
//   - method: post (default) or put
//   - headers, cookies: maps of string values
//   - user, password: basic auth
//   - bearer_token: the "Bearer " prefix is added when missing
//   - verify_ssl: false skips certificate verification
//   - timeout: per attempt (default 30s)
//   - retry_count: retries after the first attempt (default 3, at most 10)
//   - retry_delay: initial backoff (default 1s), doubled per retry
//
// # Retry Logic
//
// Retryable conditions:
//   - Network errors (connection refused, timeout)
//   - 5xx server errors
//   - 429 Too Many Requests
//
// Everything else fails at once. 401, 403 and 404 map to
// errors.ErrUnauthorized, errors.ErrForbidden and errors.ErrNotFound.
package httppost
