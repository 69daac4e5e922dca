// Package file provides the file sink.
//
// # Overview
//
// The file sink writes each published value to a path on disk and returns
// the serialized text. Parent directories are created as needed.
//
// # Quick Start
//
//	sink, err := registry.OpenSink(ctx, "file:///var/data/out.json", nil, deps)
//	text, err := sink.Publish(ctx, rec)
//
// # Content Types
//
// The content_type option selects the layout:
//
//   - application/json (default): the file is replaced by the indented JSON
//     of the latest value
//   - application/x-ndjson: one compact JSON line is appended per value
//
// # Archives
//
// With tar_name set the value is packed into a tar.gz archive instead. The
// archive is written to the path, with .tar.gz appended unless the path
// already ends in .tar.gz or .tgz, and holds a single entry named tar_name.
// tar: true does the same with the entry named after the file:
//
//	file:///var/data/out.json?tar=true  ->  /var/data/out.json.tar.gz
//	                                         entry "out.json"
//
// Archives are rewritten on every publish, so NDJSON cannot be combined
// with tar output.
//
// # Records
//
// A *record.Record is serialized with its keys in insertion order.
package file
