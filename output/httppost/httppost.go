package httppost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/options"
	"github.com/c360/datacollector/output"
	"github.com/c360/datacollector/pkg/retry"
)

// Config holds configuration for the HTTP sink
type Config struct {
	URL        string
	Request    input.HTTPOptions
	RetryCount int
	RetryDelay time.Duration
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "method must be POST or PUT")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}
	return nil
}

// DefaultConfig returns default configuration for the HTTP sink
func DefaultConfig() Config {
	return Config{
		Request: input.HTTPOptions{
			Method:    http.MethodPost,
			VerifySSL: true,
			Timeout:   input.DefaultHTTPTimeout,
		},
		RetryCount: 3,
		RetryDelay: time.Second,
	}
}

// Output sends each published value as a JSON request body and returns
// the decoded response.
type Output struct {
	output.Base
	cfg    Config
	client *http.Client
	retry  retry.Config
}

// NewOutput creates an HTTP sink.
func NewOutput(cfg Config, deps component.Dependencies) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Output{
		Base:   output.NewBase("http:"+redact(cfg.URL), deps),
		cfg:    cfg,
		client: deps.GetReader().HTTPClient(cfg.Request.VerifySSL),
	}
	o.retry = retry.Config{
		MaxAttempts:  cfg.RetryCount + 1,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
		RetryIf:      errors.IsTransient,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			o.Logger().Warn("OUTPUT post failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	return o, nil
}

// Publish sends v. Network errors, 429 and 5xx responses are retried.
func (h *Output) Publish(ctx context.Context, v any) (any, error) {
	body, err := output.Encode(v)
	if err != nil {
		return nil, h.Observe(err)
	}

	req := h.cfg.Request
	req.Body = json.RawMessage(body)

	resp, err := input.DoHTTP(ctx, h.client, h.retry, h.cfg.URL, req)
	if err != nil {
		return nil, h.Observe(err)
	}

	result, err := input.DecodeResponse(resp, "", nil)
	if err != nil {
		h.Logger().Warn("response not decodable, returning text", "error", err)
		result = string(resp.Body)
	}
	h.Logger().Debug("request sent", "status", resp.StatusCode, "bytes", len(body))
	return result, h.Observe(nil)
}

// Close is a no-op.
func (h *Output) Close() error {
	return nil
}

// ConfigFromOptions reads an HTTP sink config. Options: method (post or
// put), headers, user, password, bearer_token, cookies, verify_ssl,
// timeout, retry_count, retry_delay.
func ConfigFromOptions(uri string, opts map[string]any) (Config, error) {
	cfg := DefaultConfig()
	req, err := input.ParseHTTPOptions(opts, http.MethodPost)
	if err != nil {
		return cfg, err
	}
	req.Body = nil
	cfg.URL = uri
	cfg.Request = req
	cfg.RetryCount = options.GetInt(opts, "retry_count", cfg.RetryCount)
	cfg.RetryDelay = options.GetDuration(opts, "retry_delay", cfg.RetryDelay)
	return cfg, nil
}

// NewSink builds an HTTP sink from an http:// or https:// URI.
func NewSink(_ context.Context, u *url.URL, opts map[string]any, deps component.Dependencies) (component.Sink, error) {
	cfg, err := ConfigFromOptions(u.String(), opts)
	if err != nil {
		return nil, err
	}
	out, err := NewOutput(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("http sink %s: %w", redact(cfg.URL), err)
	}
	return out, nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

// Register registers the HTTP sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "httppost",
		Type:        component.TypeSink,
		Schemes:     []string{"http", "https"},
		Description: "HTTP sink sending JSON with retry and exponential backoff",
		Version:     "1.0.0",
		SinkFactory: NewSink,
	})
}
