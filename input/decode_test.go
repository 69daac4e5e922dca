package input

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/errors"
)

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"a.json":     FormatJSON,
		"a.jsonld":   FormatJSON,
		"A.YML":      FormatYAML,
		"a.csv":      FormatCSV,
		"a.xml":      FormatXML,
		"a.tar.gz":   FormatTarGz,
		"a.tgz":      FormatTarGz,
		"photo.jpeg": FormatImage,
		"notes.txt":  FormatText,
	}
	for name, want := range tests {
		got, ok := FormatFromPath(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := FormatFromPath("a.bin")
	assert.False(t, ok)
}

func TestFormatFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		format      Format
		known       bool
	}{
		{"application/json; charset=utf-8", FormatJSON, true},
		{"application/ld+json", FormatJSON, true},
		{"application/atom+xml", FormatXML, true},
		{"text/xml", FormatXML, true},
		{"text/csv", FormatCSV, true},
		{"application/x-yaml", FormatYAML, true},
		{"image/png", FormatImage, true},
		{"application/octet-stream", FormatXML, false},
		{"", FormatXML, false},
	}
	for _, tt := range tests {
		f, known := FormatFromContentType(tt.contentType)
		assert.Equal(t, tt.format, f, tt.contentType)
		assert.Equal(t, tt.known, known, tt.contentType)
	}
}

func TestDecode_JSON(t *testing.T) {
	v, err := Decode([]byte(`{"n": 3, "f": 1.5, "list": [1, "a"]}`), FormatJSON, "", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n":    int64(3),
		"f":    1.5,
		"list": []any{int64(1), "a"},
	}, v)

	_, err = Decode([]byte(`{"n":`), FormatJSON, "", nil)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}

func TestDecode_YAML(t *testing.T) {
	v, err := Decode([]byte("title: Go\ntags: [a, b]\n"), FormatYAML, "", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Go", "tags": []any{"a", "b"}}, v)
}

func TestDecode_CSV(t *testing.T) {
	v, err := Decode([]byte("ID,Title\n1,Go\n2\n"), FormatCSV, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"id": "1", "title": "Go"},
		map[string]any{"id": "2", "title": nil},
	}, v)

	v, err = Decode([]byte("a;b\n1;2\n"), FormatCSV, "", map[string]any{"col_sep": ";"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"a": "1", "b": "2"}}, v)

	v, err = Decode([]byte("\uFEFFName\nAda\n"), FormatCSV, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "Ada"}}, v)
}

func TestDecodeXML(t *testing.T) {
	doc := `<?xml version="1.0"?>
<dc:record xmlns:dc="http://purl.org/dc/elements/1.1/" id="7">
  <dc:title lang="en">Go</dc:title>
  <dc:subject>one</dc:subject>
  <dc:subject>two</dc:subject>
  <empty/>
</dc:record>`

	v, err := DecodeXML([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"record": map[string]any{
			"_id":     "7",
			"title":   map[string]any{"_lang": "en", "#text": "Go"},
			"subject": []any{"one", "two"},
			"empty":   nil,
		},
	}, v)
}

func TestDecodeXML_Invalid(t *testing.T) {
	_, err := DecodeXML([]byte("plain text"))
	assert.Error(t, err)
}

func tarGz(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range order {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o600, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestDecode_TarGz(t *testing.T) {
	single := tarGz(t, map[string]string{"a.json": `{"a": 1}`}, "a.json")
	v, err := Decode(single, FormatTarGz, "in.tar.gz", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, v)

	files := map[string]string{"a.json": `{"a": 1}`, "b.dat": `<b>2</b>`}
	multi := tarGz(t, files, "a.json", "b.dat")
	v, err = Decode(multi, FormatTarGz, "in.tar.gz", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"a": int64(1)},
		map[string]any{"b": "2"},
	}, v)
}

func TestDecode_Image(t *testing.T) {
	v, err := Decode([]byte{0x89, 'P', 'N', 'G'}, FormatImage, "logo.png", nil)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,iVBORw==", v)

	v, err = Decode([]byte{0x89, 'P', 'N', 'G'}, FormatImage, "image/gif", nil)
	require.NoError(t, err)
	assert.Equal(t, "data:image/gif;base64,iVBORw==", v)
}

func TestDecode_UnknownFormat(t *testing.T) {
	_, err := Decode([]byte("x"), Format("bin"), "", nil)
	assert.ErrorIs(t, err, errors.ErrUnknownFormat)
}
