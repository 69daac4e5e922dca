package input

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/options"
	"github.com/c360/datacollector/pkg/retry"
)

// DefaultHTTPTimeout bounds a single HTTP attempt.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPOptions are the request options shared by the reader and the HTTP sink.
type HTTPOptions struct {
	Method      string
	Body        any
	User        string
	Password    string
	BearerToken string
	Headers     map[string]string
	Cookies     map[string]string
	VerifySSL   bool
	ContentType string
	Timeout     time.Duration
}

// ParseHTTPOptions reads HTTP options from an option map. method is the
// default verb.
func ParseHTTPOptions(opts map[string]any, method string) (HTTPOptions, error) {
	h := HTTPOptions{
		Method:      strings.ToUpper(options.GetString(opts, "method", method)),
		Body:        opts["body"],
		User:        options.GetString(opts, "user", ""),
		Password:    options.GetString(opts, "password", ""),
		BearerToken: options.GetString(opts, "bearer_token", ""),
		Headers:     options.GetStringMap(opts, "headers"),
		Cookies:     options.GetStringMap(opts, "cookies"),
		VerifySSL:   options.GetBool(opts, "verify_ssl", true),
		ContentType: options.GetString(opts, "content_type", ""),
		Timeout:     options.GetDuration(opts, "timeout", DefaultHTTPTimeout),
	}

	switch h.Method {
	case http.MethodGet:
		h.Body = nil
	case http.MethodPost, http.MethodPut:
	default:
		return h, errors.WrapInvalid(fmt.Errorf("%w: method %q", errors.ErrInvalidConfig, h.Method),
			"input", "ParseHTTPOptions", "method validation")
	}
	if h.BearerToken != "" && !strings.HasPrefix(h.BearerToken, "Bearer ") {
		h.BearerToken = "Bearer " + h.BearerToken
	}
	return h, nil
}

// Validate checks that POST and PUT requests carry a body.
func (h HTTPOptions) Validate() error {
	if (h.Method == http.MethodPost || h.Method == http.MethodPut) && h.Body == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s requires a body", errors.ErrMissingConfig, h.Method),
			"input", "HTTPOptions", "body validation")
	}
	return nil
}

// encodeBody serializes the body. Strings and bytes are sent as is, other
// values as JSON.
func (h HTTPOptions) encodeBody() ([]byte, string, error) {
	switch b := h.Body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(b), "text/plain", nil
	case []byte:
		return b, "application/octet-stream", nil
	case json.Marshaler:
		data, err := b.MarshalJSON()
		return data, "application/json", err
	default:
		data, err := json.Marshal(b)
		return data, "application/json", err
	}
}

// Response is a successful HTTP response with its body read.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// MediaType returns the response media type without parameters.
func (r *Response) MediaType() string {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(r.ContentType, ";")[0]))
	}
	return mt
}

// NewHTTPClient returns a client honouring verify_ssl. Per-request timeouts
// come from the context.
func NewHTTPClient(verifySSL bool) *http.Client {
	if verifySSL {
		return &http.Client{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opted out with verify_ssl: false
	return &http.Client{Transport: transport}
}

// DoHTTP sends the request described by h, retrying transient failures with
// cfg. 401, 403 and 404 map to ErrUnauthorized, ErrForbidden and ErrNotFound.
// 429 and 5xx responses are transient.
func DoHTTP(ctx context.Context, client *http.Client, cfg retry.Config, url string, h HTTPOptions) (*Response, error) {
	body, bodyType, err := h.encodeBody()
	if err != nil {
		return nil, errors.WrapInvalid(err, "input", "DoHTTP", "encode body")
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = errors.IsTransient
	}

	return retry.DoWithResult(ctx, cfg, func() (*Response, error) {
		return doOnce(ctx, client, url, h, body, bodyType)
	})
}

func doOnce(ctx context.Context, client *http.Client, url string, h HTTPOptions, body []byte, bodyType string) (*Response, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, h.Method, url, reader)
	if err != nil {
		return nil, retry.NonRetryable(errors.WrapInvalid(err, "input", "DoHTTP", "build request"))
	}

	if body != nil {
		req.Header.Set("Content-Type", bodyType)
	}
	if h.User != "" {
		req.SetBasicAuth(h.User, h.Password)
	}
	if h.BearerToken != "" {
		req.Header.Set("Authorization", h.BearerToken)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	for name, v := range h.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: v})
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "input", "DoHTTP", h.Method+" "+url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "input", "DoHTTP", "read body")
	}
	if err := statusError(resp.StatusCode, data, url); err != nil {
		return nil, err
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func statusError(status int, body []byte, url string) error {
	action := fmt.Sprintf("HTTP %d from %s", status, url)
	switch {
	case status == http.StatusPartialContent:
		return errors.WrapInvalid(fmt.Errorf("%w: partial content", errors.ErrInvalidData), "input", "DoHTTP", action)
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return errors.WrapInvalid(errors.ErrUnauthorized, "input", "DoHTTP", action)
	case status == http.StatusForbidden:
		return errors.WrapInvalid(errors.ErrForbidden, "input", "DoHTTP", action)
	case status == http.StatusNotFound:
		return errors.WrapInvalid(errors.ErrNotFound, "input", "DoHTTP", action)
	case status == http.StatusTooManyRequests, status >= 500:
		return errors.WrapTransient(fmt.Errorf("status %d: %s", status, snippet(body)), "input", "DoHTTP", action)
	}
	return errors.WrapInvalid(fmt.Errorf("status %d: %s", status, snippet(body)), "input", "DoHTTP", action)
}

func snippet(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
