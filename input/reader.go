package input

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/options"
	"github.com/c360/datacollector/pkg/retry"
	"github.com/c360/datacollector/storage"
	"github.com/c360/datacollector/storage/s3store"
)

// Reader fetches a URI and decodes it into a value. It is safe for
// concurrent use and is shared by every handler of a process.
type Reader struct {
	logger *slog.Logger
	client *http.Client
	retry  retry.Config

	insecureOnce   sync.Once
	insecureClient *http.Client

	s3Config s3store.Config
	storeMu  sync.Mutex
	store    storage.ObjectStore
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHTTPClient replaces the client used for verified HTTPS and plain HTTP.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Reader) {
		if client != nil {
			r.client = client
		}
	}
}

// WithRetry sets the backoff for transient HTTP failures.
func WithRetry(cfg retry.Config) Option {
	return func(r *Reader) {
		r.retry = cfg
	}
}

// WithObjectStore serves s3:// URIs from store instead of dialing S3.
func WithObjectStore(store storage.ObjectStore) Option {
	return func(r *Reader) {
		r.store = store
	}
}

// WithS3Config sets the endpoint and credentials of the lazily created S3 store.
func WithS3Config(cfg s3store.Config) Option {
	return func(r *Reader) {
		r.s3Config = cfg
	}
}

// NewReader creates a reader.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		logger: slog.Default(),
		client: &http.Client{},
		retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reader")
	return r
}

// FromURI reads uri and decodes it. Supported schemes are file, http, https
// and s3. With the raw option set the undecoded text is returned.
func (r *Reader) FromURI(ctx context.Context, uri string, opts map[string]any) (any, error) {
	u, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("reading", "scheme", u.Scheme, "uri", redacted(u))

	switch u.Scheme {
	case "file":
		return r.fromFile(u, opts)
	case "http", "https":
		return r.fromHTTP(ctx, u, opts)
	case "s3":
		return r.fromS3(ctx, u, opts)
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnsupportedScheme, u.Scheme), "Reader", "FromURI", "scheme lookup")
}

func (r *Reader) fromFile(u *url.URL, opts map[string]any) (any, error) {
	path := FilePath(u)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrNotFound, path), "Reader", "fromFile", "stat")
		}
		return nil, errors.Wrap(err, "Reader", "fromFile", "stat")
	}
	if info.IsDir() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", ErrIsDirectory, path), "Reader", "fromFile", "stat")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Reader", "fromFile", "read")
	}
	if options.GetBool(opts, "raw", false) {
		return string(data), nil
	}

	format, ok := FormatFromPath(path)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownFormat, path), "Reader", "fromFile", "detect format")
	}
	return Decode(data, format, path, opts)
}

func (r *Reader) fromHTTP(ctx context.Context, u *url.URL, opts map[string]any) (any, error) {
	h, err := ParseHTTPOptions(opts, http.MethodGet)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("HTTP read failed, retrying", "uri", redacted(u), "attempt", attempt, "wait", wait, "error", err)
	}
	resp, err := DoHTTP(ctx, r.HTTPClient(h.VerifySSL), cfg, u.String(), h)
	if err != nil {
		return nil, err
	}
	if options.GetBool(opts, "raw", false) {
		return string(resp.Body), nil
	}

	return DecodeResponse(resp, h.ContentType, opts)
}

func (r *Reader) fromS3(ctx context.Context, u *url.URL, opts map[string]any) (any, error) {
	bucket, key, err := s3store.ParseURI(u)
	if err != nil {
		return nil, err
	}
	store, err := r.objectStore(ctx)
	if err != nil {
		return nil, err
	}

	data, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, errors.Wrap(err, "Reader", "fromS3", "get object")
	}
	if options.GetBool(opts, "raw", false) {
		return string(data), nil
	}

	format, ok := FormatFromPath(key)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownFormat, key), "Reader", "fromS3", "detect format")
	}
	return Decode(data, format, key, opts)
}

// Retry returns the backoff used for transient HTTP failures.
func (r *Reader) Retry() retry.Config {
	return r.retry
}

// ObjectStore returns the store serving s3:// URIs, creating it on first use.
func (r *Reader) ObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	return r.objectStore(ctx)
}

func (r *Reader) objectStore(ctx context.Context) (storage.ObjectStore, error) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	if r.store != nil {
		return r.store, nil
	}
	store, err := s3store.New(ctx, r.s3Config, r.logger)
	if err != nil {
		return nil, err
	}
	r.store = store
	return store, nil
}

// HTTPClient returns the shared client, or one skipping certificate
// verification when verifySSL is false.
func (r *Reader) HTTPClient(verifySSL bool) *http.Client {
	if verifySSL {
		return r.client
	}
	r.insecureOnce.Do(func() {
		r.insecureClient = NewHTTPClient(false)
	})
	return r.insecureClient
}

// DecodeResponse decodes an HTTP body by its content type. Unrecognised
// types are tried as XML and fall back to text. An empty body is nil.
func DecodeResponse(resp *Response, contentType string, opts map[string]any) (any, error) {
	if contentType == "" {
		contentType = resp.ContentType
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	format, known := FormatFromContentType(contentType)
	if !known {
		if v, err := DecodeXML(resp.Body); err == nil {
			return v, nil
		}
		return string(resp.Body), nil
	}

	name := ""
	if format == FormatImage {
		name = (&Response{ContentType: contentType}).MediaType()
	}
	return Decode(resp.Body, format, name, opts)
}

func redacted(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = url.User(u.User.Username())
	return c.String()
}
