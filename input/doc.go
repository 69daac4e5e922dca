// Package input reads resources named by URI and decodes them into generic
// values: maps, lists and scalars ready for the rules engine.
//
// A Reader serves three schemes:
//
//	file:///data/in.json          decoded by extension
//	https://api.example.com/feed  decoded by response content type
//	s3://bucket/path/in.csv       decoded by key extension
//
// Recognised formats are JSON, YAML, CSV (one map per row, lower-cased
// headers), XML, tar.gz archives and images, which become data URIs.
// Passing raw: true skips decoding.
//
// XML elements become nested maps keyed by local name. Attributes are
// stored under an underscore prefix and element text under "#text" when the
// element also has attributes or children:
//
//	<book id="7"><title>Go</title></book>
//
// decodes to
//
//	{"book": {"_id": "7", "title": "Go"}}
//
// HTTP requests accept method, body, user, password, bearer_token, headers,
// cookies, verify_ssl, content_type and timeout options. Transient failures
// (network errors, 429 and 5xx) are retried with backoff.
//
// Sub-packages provide the event-driven sources: dir, queue and rpc.
package input
