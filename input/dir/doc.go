// Package dir provides the directory watch source.
//
// A Watcher subscribes to filesystem notifications for one directory and
// dispatches the absolute name of each file that is created or written.
// Events for the same file are merged until it has been quiet for the
// configured latency (250ms by default), so a file copied in several writes
// is dispatched once.
//
//	src, err := registry.OpenSource("file:///var/spool/in", map[string]any{
//	    "pattern": "*.xml",
//	    "latency": "1s",
//	}, deps)
//
// Running reports false as soon as the notification stream ends, for
// instance when the directory is removed.
package dir
