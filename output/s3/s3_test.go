package s3

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/storage"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("missing %s/%s", bucket, key)
	}
	return data, nil
}

func (m *memoryStore) Put(_ context.Context, bucket, key string, body []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = body
	m.types[bucket+"/"+key] = contentType
	return "s3://" + bucket + "/" + key, nil
}

func depsWithStore(store storage.ObjectStore) component.Dependencies {
	return component.Dependencies{Reader: input.NewReader(input.WithObjectStore(store))}
}

func TestOutput_FixedKey(t *testing.T) {
	store := newMemoryStore()
	u, err := url.Parse("s3://bucket/exports/latest.json")
	require.NoError(t, err)

	sink, err := NewSink(context.Background(), u, nil, depsWithStore(store))
	require.NoError(t, err)

	location, err := sink.Publish(context.Background(), map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/exports/latest.json", location)
	assert.Equal(t, `{"a":1}`, string(store.objects["bucket/exports/latest.json"]))
	assert.Equal(t, ContentType, store.types["bucket/exports/latest.json"])
}

func TestOutput_PrefixGeneratesKeys(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2024, 10, 8, 14, 30, 0, 0, time.UTC)
	out, err := NewOutput("bucket", "exports/", storage.TimeKeyGenerator{Ext: ".json", Now: func() time.Time { return now }},
		input.NewReader(input.WithObjectStore(store)), component.Dependencies{})
	require.NoError(t, err)

	first, err := out.Publish(context.Background(), 1)
	require.NoError(t, err)
	second, err := out.Publish(context.Background(), 2)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Contains(t, first, "s3://bucket/exports/2024/10/08/14/")
	assert.Len(t, store.objects, 2)
}

func TestOutput_ReadBack(t *testing.T) {
	store := newMemoryStore()
	deps := depsWithStore(store)
	u, err := url.Parse("s3://bucket/out.json")
	require.NoError(t, err)

	sink, err := NewSink(context.Background(), u, nil, deps)
	require.NoError(t, err)
	_, err = sink.Publish(context.Background(), map[string]any{"title": "Go"})
	require.NoError(t, err)

	v, err := deps.Reader.FromURI(context.Background(), "s3://bucket/out.json", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Go"}, v)
}

func TestNewOutput_RequiresBucket(t *testing.T) {
	_, err := NewOutput("", "k", nil, input.NewReader(), component.Dependencies{})
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	assert.True(t, registry.HasSink("s3"))
}
