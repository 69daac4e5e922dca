// Package options reads the loosely typed option maps passed to readers,
// sources and sinks. Values may come from YAML, JSON or URI query
// parameters, so numbers and booleans are also accepted in string form.
package options

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/c360/datacollector/value"
)

// GetString extracts a string option with a default fallback
func GetString(opts map[string]any, key string, defaultValue string) string {
	v, ok := opts[key]
	if !ok || v == nil {
		return defaultValue
	}
	if s, ok := v.(string); ok {
		return s
	}
	if value.IsScalar(v) {
		return value.String(value.Normalize(v))
	}
	return defaultValue
}

// GetInt extracts an integer option with a default fallback and bounds checking
func GetInt(opts map[string]any, key string, defaultValue int) int {
	switch v := value.Normalize(opts[key]).(type) {
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return defaultValue
		}
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return defaultValue
		}
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return defaultValue
		}
		return n
	}
	return defaultValue
}

// GetBool extracts a boolean option with a default fallback
func GetBool(opts map[string]any, key string, defaultValue bool) bool {
	switch v := opts[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return defaultValue
		}
		return b
	}
	return defaultValue
}

// GetFloat64 extracts a float option with a default fallback
func GetFloat64(opts map[string]any, key string, defaultValue float64) float64 {
	switch v := value.Normalize(opts[key]).(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return defaultValue
		}
		return v
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return defaultValue
		}
		return f
	}
	return defaultValue
}

// GetDuration extracts a duration option. Strings use time.ParseDuration
// syntax, bare numbers are seconds.
func GetDuration(opts map[string]any, key string, defaultValue time.Duration) time.Duration {
	switch v := opts[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
		return defaultValue
	case nil:
		return defaultValue
	}
	if f := GetFloat64(opts, key, -1); f >= 0 {
		return time.Duration(f * float64(time.Second))
	}
	return defaultValue
}

// GetStringMap extracts a map option with string values, such as headers.
func GetStringMap(opts map[string]any, key string) map[string]string {
	m, ok := value.Normalize(opts[key]).(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = value.String(v)
	}
	return out
}

// MergeQuery returns opts extended with the URI query parameters. Explicit
// options win over query parameters.
func MergeQuery(opts map[string]any, query map[string][]string) map[string]any {
	out := make(map[string]any, len(opts)+len(query))
	for k, vs := range query {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	for k, v := range opts {
		out[k] = v
	}
	return out
}

// RequireString returns the option or an error naming the missing key.
func RequireString(opts map[string]any, key string) (string, error) {
	s := GetString(opts, key, "")
	if s == "" {
		return "", fmt.Errorf("missing option %q", key)
	}
	return s, nil
}
