package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/errors"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		scheme string
		path   string
	}{
		{"bare absolute path", "/tmp/data.json", "file", "/tmp/data.json"},
		{"relative file uri", "file://relative/data.json", "file", "relative/data.json"},
		{"localhost file uri", "file://localhost/tmp/x", "file", "/tmp/x"},
		{"triple slash", "file:///tmp/y.xml", "file", "/tmp/y.xml"},
		{"upper-case scheme", "HTTPS://example.com/a", "https", ""},
		{"surrounding space", "  nats://localhost:4222?channel=in ", "nats", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, u.Scheme)
			if tt.path != "" {
				assert.Equal(t, tt.path, FilePath(u))
			}
		})
	}
}

func TestParseURI_Blank(t *testing.T) {
	_, err := ParseURI("   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	assert.True(t, errors.IsInvalid(err))
}
