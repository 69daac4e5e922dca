package input

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/pkg/retry"
)

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "memoryStore", "Get", key)
	}
	return data, nil
}

func (m *memoryStore) Put(_ context.Context, bucket, key string, body []byte, _ string) (string, error) {
	m.objects[bucket+"/"+key] = body
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func quickRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReader_File(t *testing.T) {
	r := NewReader()
	ctx := context.Background()

	path := writeFile(t, "in.json", `{"title": "Go"}`)
	v, err := r.FromURI(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Go"}, v)

	v, err = r.FromURI(ctx, "file://"+path, map[string]any{"raw": true})
	require.NoError(t, err)
	assert.Equal(t, `{"title": "Go"}`, v)

	_, err = r.FromURI(ctx, writeFile(t, "in.bin", "x"), nil)
	assert.ErrorIs(t, err, errors.ErrUnknownFormat)

	_, err = r.FromURI(ctx, filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestReader_Directory(t *testing.T) {
	_, err := NewReader().FromURI(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestReader_UnsupportedScheme(t *testing.T) {
	_, err := NewReader().FromURI(context.Background(), "ftp://example.com/a", nil)
	assert.ErrorIs(t, err, errors.ErrUnsupportedScheme)
}

func TestReader_HTTPContentTypes(t *testing.T) {
	bodies := map[string]struct {
		contentType string
		body        string
	}{
		"/json":  {"application/json", `{"a": [1, 2]}`},
		"/xml":   {"application/atom+xml", `<feed><title>t</title></feed>`},
		"/csv":   {"text/csv", "a,b\n1,2\n"},
		"/plain": {"application/octet-stream", "not xml"},
		"/guess": {"application/octet-stream", "<a>1</a>"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b := bodies[req.URL.Path]
		w.Header().Set("Content-Type", b.contentType)
		_, _ = io.WriteString(w, b.body)
	}))
	defer srv.Close()

	r := NewReader()
	ctx := context.Background()

	tests := []struct {
		path string
		want any
	}{
		{"/json", map[string]any{"a": []any{int64(1), int64(2)}}},
		{"/xml", map[string]any{"feed": map[string]any{"title": "t"}}},
		{"/csv", []any{map[string]any{"a": "1", "b": "2"}}},
		{"/plain", "not xml"},
		{"/guess", map[string]any{"a": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, err := r.FromURI(ctx, srv.URL+tt.path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	v, err := r.FromURI(ctx, srv.URL+"/plain", map[string]any{"content_type": "application/json", "raw": true})
	require.NoError(t, err)
	assert.Equal(t, "not xml", v)
}

func TestReader_HTTPRequestOptions(t *testing.T) {
	var seen *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen = req
		body, _ = io.ReadAll(req.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok": true}`)
	}))
	defer srv.Close()

	r := NewReader()
	v, err := r.FromURI(context.Background(), srv.URL+"/search", map[string]any{
		"method":       "post",
		"body":         map[string]any{"q": "go"},
		"bearer_token": "secret",
		"headers":      map[string]any{"X-Trace": "1"},
		"cookies":      map[string]any{"session": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, v)

	require.NotNil(t, seen)
	assert.Equal(t, http.MethodPost, seen.Method)
	assert.Equal(t, "Bearer secret", seen.Header.Get("Authorization"))
	assert.Equal(t, "1", seen.Header.Get("X-Trace"))
	assert.Equal(t, "application/json", seen.Header.Get("Content-Type"))
	cookie, err := seen.Cookie("session")
	require.NoError(t, err)
	assert.Equal(t, "abc", cookie.Value)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, map[string]any{"q": "go"}, sent)
}

func TestReader_HTTPBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "welcome")
	}))
	defer srv.Close()

	r := NewReader()
	v, err := r.FromURI(context.Background(), srv.URL, map[string]any{"user": "u", "password": "p"})
	require.NoError(t, err)
	assert.Equal(t, "welcome", v)

	_, err = r.FromURI(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestReader_HTTPBodyRequired(t *testing.T) {
	_, err := NewReader().FromURI(context.Background(), "http://localhost/x", map[string]any{"method": "put"})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestReader_HTTPStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{http.StatusForbidden, errors.ErrForbidden},
		{http.StatusNotFound, errors.ErrNotFound},
		{http.StatusPartialContent, errors.ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewReader(WithRetry(quickRetry())).FromURI(context.Background(), srv.URL, nil)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestReader_HTTPRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[1]`)
	}))
	defer srv.Close()

	v, err := NewReader(WithRetry(quickRetry())).FromURI(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReader_HTTPSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "secure")
	}))
	defer srv.Close()

	r := NewReader(WithRetry(retry.Config{MaxAttempts: 1}))
	_, err := r.FromURI(context.Background(), srv.URL, nil)
	assert.Error(t, err)

	v, err := r.FromURI(context.Background(), srv.URL, map[string]any{"verify_ssl": false})
	require.NoError(t, err)
	assert.Equal(t, "secure", v)
}

func TestReader_S3(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{
		"bucket/in/data.yaml": []byte("a: 1\n"),
	}}
	r := NewReader(WithObjectStore(store))

	v, err := r.FromURI(context.Background(), "s3://bucket/in/data.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, v)

	_, err = r.FromURI(context.Background(), "s3://bucket/missing.json", nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
