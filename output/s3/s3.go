// Package s3 provides the S3 sink. Each published value is uploaded as
// JSON. A URI ending in "/" names a prefix, under which keys are generated
// per value and bucketed by hour:
//
//	s3://bucket/exports/latest.json   one object, overwritten
//	s3://bucket/exports/              exports/2024/10/08/14/<uuid>.json
package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/output"
	"github.com/c360/datacollector/storage"
)

// ContentType of uploaded objects.
const ContentType = "application/json"

// ObjectStoreProvider hands out the store lazily so constructing the sink
// does no I/O.
type ObjectStoreProvider interface {
	ObjectStore(ctx context.Context) (storage.ObjectStore, error)
}

// Output uploads published values.
type Output struct {
	output.Base
	bucket string
	key    string
	keys   storage.KeyGenerator
	stores ObjectStoreProvider
}

// NewOutput creates an S3 sink for bucket and key. keys is used when key is
// a prefix.
func NewOutput(bucket, key string, keys storage.KeyGenerator, stores ObjectStoreProvider, deps component.Dependencies) (*Output, error) {
	if bucket == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: bucket", errors.ErrMissingConfig), "s3", "NewOutput", "bucket is required")
	}
	if keys == nil {
		keys = storage.TimeKeyGenerator{Ext: ".json"}
	}
	return &Output{
		Base:   output.NewBase("s3:"+bucket+"/"+key, deps),
		bucket: bucket,
		key:    key,
		keys:   keys,
		stores: stores,
	}, nil
}

// Publish uploads the JSON form of v and returns the object location.
func (s *Output) Publish(ctx context.Context, v any) (any, error) {
	body, err := output.Encode(v)
	if err != nil {
		return nil, s.Observe(err)
	}
	store, err := s.stores.ObjectStore(ctx)
	if err != nil {
		return nil, s.Observe(err)
	}

	key := s.key
	if storage.IsPrefix(key) {
		key = s.keys.GenerateKey(key)
	}
	location, err := store.Put(ctx, s.bucket, key, body, ContentType)
	if err != nil {
		return nil, s.Observe(err)
	}
	s.Logger().Debug("object written", "bucket", s.bucket, "key", key)
	return location, s.Observe(nil)
}

// Close is a no-op.
func (s *Output) Close() error {
	return nil
}

// NewSink builds an S3 sink from an s3:// URI using the store of the
// shared reader.
func NewSink(_ context.Context, u *url.URL, _ map[string]any, deps component.Dependencies) (component.Sink, error) {
	return NewOutput(u.Host, strings.TrimPrefix(u.Path, "/"), nil, deps.GetReader(), deps)
}

// Register registers the S3 sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "s3",
		Type:        component.TypeSink,
		Schemes:     []string{"s3"},
		Description: "S3 sink uploading JSON objects",
		Version:     "1.0.0",
		SinkFactory: NewSink,
	})
}
