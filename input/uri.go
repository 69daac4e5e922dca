package input

import (
	stderrors "errors"
	"net/url"
	"strings"

	"github.com/c360/datacollector/errors"
)

// ErrIsDirectory is returned when a file URI names a directory. Directories
// are watched with the dir source instead of read.
var ErrIsDirectory = stderrors.New("uri is a directory")

// ParseURI parses a source or sink descriptor. A bare path is treated as a
// file URI. The scheme is lower-cased.
func ParseURI(uri string) (*url.URL, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "input", "ParseURI", "empty uri")
	}
	if !strings.Contains(uri, "://") {
		uri = "file://" + uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "input", "ParseURI", "parse")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

// FilePath returns the filesystem path of a file URI. Both file:///abs and
// file://relative/path forms are accepted.
func FilePath(u *url.URL) string {
	if u.Host == "" || u.Host == "localhost" {
		return u.Path
	}
	return u.Host + u.Path
}
