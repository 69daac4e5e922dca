package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStore reads and writes whole objects addressed by bucket and key.
//
// s3store.Store is the production implementation. All implementations must
// be safe for concurrent use.
type ObjectStore interface {
	// Get returns the object body, or an error wrapping errors.ErrNotFound
	// when the object does not exist.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Put stores body, overwriting any existing object, and returns its
	// location.
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error)
}

// KeyGenerator generates object keys for values written by sinks.
type KeyGenerator interface {
	GenerateKey(prefix string) string
}

// TimeKeyGenerator creates hierarchical keys bucketed by UTC hour:
// "{prefix}/2024/10/08/14/{uuid}{ext}".
type TimeKeyGenerator struct {
	Ext string
	Now func() time.Time
}

// GenerateKey implements KeyGenerator.
func (g TimeKeyGenerator) GenerateKey(prefix string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	t := now().UTC()
	bucket := fmt.Sprintf("%04d/%02d/%02d/%02d", t.Year(), t.Month(), t.Day(), t.Hour())
	return path.Join(strings.Trim(prefix, "/"), bucket, uuid.NewString()+g.Ext)
}

// IsPrefix reports whether key names a prefix rather than an object.
func IsPrefix(key string) bool {
	return key == "" || strings.HasSuffix(key, "/")
}
