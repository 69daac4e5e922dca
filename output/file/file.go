package file

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/options"
	"github.com/c360/datacollector/output"
)

// Content types
const (
	ContentTypeJSON   = "application/json"
	ContentTypeNDJSON = "application/x-ndjson"
)

// Config holds configuration for the file sink
type Config struct {
	Path        string
	ContentType string
	// TarName, when set, packs the output into a tar.gz archive under this
	// entry name.
	TarName string
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}

	switch c.ContentType {
	case ContentTypeJSON, ContentTypeNDJSON:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"content_type must be one of: application/json, application/x-ndjson")
	}

	if c.TarName != "" && c.ContentType == ContentTypeNDJSON {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tar output cannot be appended to")
	}
	return nil
}

// ArchivePath is the file written when TarName is set.
func (c *Config) ArchivePath() string {
	if strings.HasSuffix(c.Path, ".tar.gz") || strings.HasSuffix(c.Path, ".tgz") {
		return c.Path
	}
	return c.Path + ".tar.gz"
}

// Output writes each published value to a file. JSON output replaces the
// file, NDJSON output appends one line per value.
type Output struct {
	output.Base
	cfg Config
	mu  sync.Mutex
}

// NewOutput creates a file sink.
func NewOutput(cfg Config, deps component.Dependencies) (*Output, error) {
	if cfg.ContentType == "" {
		cfg.ContentType = ContentTypeJSON
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Output{Base: output.NewBase("file:"+cfg.Path, deps), cfg: cfg}, nil
}

// Publish writes v and returns the serialized text.
func (f *Output) Publish(_ context.Context, v any) (any, error) {
	text, err := f.write(v)
	return text, f.Observe(err)
}

func (f *Output) write(v any) (string, error) {
	var data []byte
	var err error
	if f.cfg.ContentType == ContentTypeNDJSON {
		data, err = output.Encode(v)
	} else {
		data, err = output.EncodeIndent(v)
	}
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.cfg.Path
	if f.cfg.TarName != "" {
		target = f.cfg.ArchivePath()
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", errors.WrapFatal(err, "Output", "Publish", "create directory")
	}

	switch {
	case f.cfg.TarName != "":
		err = writeTarGz(target, f.cfg.TarName, data)
	case f.cfg.ContentType == ContentTypeNDJSON:
		err = appendLine(target, data)
	default:
		err = os.WriteFile(target, data, 0o644)
	}
	if err != nil {
		return "", errors.WrapTransient(err, "Output", "Publish", "write "+target)
	}

	f.Logger().Debug("value written", "path", target, "bytes", len(data))
	return string(data), nil
}

func appendLine(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeTarGz(path, name string, data []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Close is a no-op: files are opened per publish.
func (f *Output) Close() error {
	return nil
}

// ConfigFromURI reads a file sink config. Options: content_type, tar_name,
// tar. With tar set and no tar_name the entry is named after the file.
func ConfigFromURI(u *url.URL, opts map[string]any) Config {
	opts = options.MergeQuery(opts, u.Query())
	cfg := Config{
		Path:        input.FilePath(u),
		ContentType: options.GetString(opts, "content_type", ContentTypeJSON),
		TarName:     options.GetString(opts, "tar_name", ""),
	}
	if cfg.TarName == "" && options.GetBool(opts, "tar", false) {
		base := filepath.Base(cfg.Path)
		base = strings.TrimSuffix(strings.TrimSuffix(base, ".tar.gz"), ".tgz")
		cfg.TarName = base
	}
	return cfg
}

// NewSink builds a file sink from a file:// URI.
func NewSink(_ context.Context, u *url.URL, opts map[string]any, deps component.Dependencies) (component.Sink, error) {
	cfg := ConfigFromURI(u, opts)
	out, err := NewOutput(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("file sink %s: %w", cfg.Path, err)
	}
	return out, nil
}

// Register registers the file sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "file",
		Type:        component.TypeSink,
		Schemes:     []string{"file"},
		Description: "File sink writing JSON or NDJSON, optionally packed into tar.gz",
		Version:     "1.0.0",
		SinkFactory: NewSink,
	})
}
