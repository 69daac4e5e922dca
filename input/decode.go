package input

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/options"
	"github.com/c360/datacollector/value"
)

// Format names a payload encoding.
type Format string

// Supported formats
const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatCSV   Format = "csv"
	FormatXML   Format = "xml"
	FormatTarGz Format = "tar.gz"
	FormatImage Format = "image"
	FormatText  Format = "text"
)

// FormatFromPath picks the format from a file name extension. ok is false
// for unknown extensions.
func FormatFromPath(name string) (f Format, ok bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.gz") {
		return FormatTarGz, true
	}
	switch path.Ext(lower) {
	case ".json", ".jsonld":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".csv":
		return FormatCSV, true
	case ".xml":
		return FormatXML, true
	case ".gz", ".tgz":
		return FormatTarGz, true
	case ".jpg", ".jpeg", ".png", ".gif":
		return FormatImage, true
	case ".txt", ".html", ".htm":
		return FormatText, true
	}
	return "", false
}

// FormatFromContentType picks the format from a media type. known is false
// for unrecognised types, which callers decode as XML and then as text.
func FormatFromContentType(contentType string) (f Format, known bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	switch {
	case mediaType == "application/json", mediaType == "application/ld+json", strings.HasSuffix(mediaType, "+json"):
		return FormatJSON, true
	case mediaType == "application/yaml", mediaType == "application/x-yaml", mediaType == "text/yaml":
		return FormatYAML, true
	case mediaType == "text/csv":
		return FormatCSV, true
	case mediaType == "application/xml", mediaType == "text/xml", strings.HasSuffix(mediaType, "+xml"):
		return FormatXML, true
	case mediaType == "application/gzip", mediaType == "application/x-gzip", mediaType == "application/x-tar":
		return FormatTarGz, true
	case strings.HasPrefix(mediaType, "image/"):
		return FormatImage, true
	case mediaType == "text/plain", mediaType == "text/html":
		return FormatText, true
	}
	return FormatXML, false
}

// Decode converts data into a value. name supplies the media type of
// images and the format of tar entries. opts may carry col_sep for CSV.
func Decode(data []byte, format Format, name string, opts map[string]any) (any, error) {
	switch format {
	case FormatJSON:
		return DecodeJSON(data)
	case FormatYAML:
		return decodeYAML(data)
	case FormatCSV:
		return decodeCSV(data, opts)
	case FormatXML:
		return DecodeXML(data)
	case FormatTarGz:
		return decodeTarGz(data, opts)
	case FormatImage:
		return dataURI(data, name), nil
	case FormatText:
		return string(data), nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownFormat, format), "input", "Decode", "select decoder")
}

// DecodeJSON parses a single JSON document. Integral numbers become int64.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "input", "DecodeJSON", "parse json")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: trailing data", errors.ErrParsingFailed), "input", "DecodeJSON", "parse json")
	}
	return value.Normalize(v), nil
}

func decodeYAML(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "input", "Decode", "parse yaml")
	}
	return value.Normalize(v), nil
}

// decodeCSV returns one map per row keyed by the lower-cased header.
func decodeCSV(data []byte, opts map[string]any) (any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if sep := options.GetString(opts, "col_sep", ""); sep != "" {
		if c, _ := utf8.DecodeRuneInString(sep); c != utf8.RuneError {
			r.Comma = c
		}
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "input", "Decode", "parse csv")
	}
	if len(rows) == 0 {
		return []any{}, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
	}

	out := make([]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = nil
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// decodeTarGz decodes each regular file by its extension, XML when unknown.
// One entry yields its value, several a list.
func decodeTarGz(data []byte, opts map[string]any) (any, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "input", "Decode", "open gzip")
	}
	defer gz.Close()

	var entries []any
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "input", "Decode", "read tar")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.WrapInvalid(err, "input", "Decode", "read tar entry "+hdr.Name)
		}

		format, ok := FormatFromPath(hdr.Name)
		if !ok || format == FormatTarGz {
			format = FormatXML
		}
		v, err := Decode(body, format, hdr.Name, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		entries = append(entries, v)
	}

	switch len(entries) {
	case 0:
		return nil, nil
	case 1:
		return entries[0], nil
	default:
		return entries, nil
	}
}

// dataURI encodes an image. name is a file name or, for HTTP bodies, the
// response media type.
func dataURI(data []byte, name string) string {
	mediaType := name
	if !strings.HasPrefix(name, "image/") {
		mediaType = mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
