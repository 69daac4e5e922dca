// Package value defines the dynamic value representation shared by decoders,
// the rule engine and output records.
//
// A value is a plain Go any restricted to a closed set of shapes:
//
//	nil | string | bool | int64 | float64 | time.Time | []any | map[string]any
//
// Normalize converts arbitrary decoded data into that set. Values are treated
// as immutable once produced; transformations build new containers.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind tags the shape of a value.
type Kind int

// Value kinds
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindList
	KindMap
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// KindOf reports the kind of a normalized value. Values outside the closed
// set are reported by their closest shape after normalization.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBool
	case int64, float64:
		return KindNumber
	case time.Time:
		return KindTime
	case []any:
		return KindList
	case map[string]any:
		return KindMap
	default:
		return KindOf(Normalize(v))
	}
}

// IsScalar reports whether v is neither a list nor a map.
func IsScalar(v any) bool {
	k := KindOf(v)
	return k != KindList && k != KindMap
}

// IsContainer reports whether v is a list or a map.
func IsContainer(v any) bool {
	return !IsScalar(v)
}

// IsEmpty reports whether v is nil, an empty string, an empty list or an
// empty map.
func IsEmpty(v any) bool {
	switch t := Normalize(v).(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// Normalize converts v into the closed value set. Integer types become int64,
// float32 and json.Number become float64 (or int64 when integral), YAML style
// map[any]any becomes map[string]any and typed slices become []any.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, int64, float64, time.Time:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return float64(t)
		}
		return int64(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []byte:
		return string(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	case fmt.Stringer:
		return t.String()
	}
	return normalizeReflect(v)
}

func normalizeReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return fmt.Sprint(v)
}

// String renders a scalar as text. Integral numbers print without exponent
// or decimal point, floats use the shortest representation, times use
// RFC3339. Containers render as JSON.
func String(v any) string {
	switch t := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// AsList returns v as a list: lists are returned as-is, nil becomes an empty
// list and any other value becomes a one-element list.
func AsList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	default:
		n := Normalize(v)
		if l, ok := n.([]any); ok {
			return l
		}
		return []any{n}
	}
}

// Flatten1 flattens list one level: nested lists contribute their elements,
// everything else contributes itself.
func Flatten1(list []any) []any {
	out := make([]any, 0, len(list))
	for _, e := range list {
		if inner, ok := e.([]any); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Compact returns list without nil elements.
func Compact(list []any) []any {
	out := make([]any, 0, len(list))
	for _, e := range list {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Clone deep-copies lists and maps. Scalars are returned unchanged.
func Clone(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	default:
		return t
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compacted removes nil values and blank strings recursively. Empty
// containers left behind are removed too, and a list left with one element
// becomes that element. It returns nil when nothing remains.
func Compacted(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return t
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if c := Compacted(e); c != nil {
				out = append(out, c)
			}
		}
		switch len(out) {
		case 0:
			return nil
		case 1:
			return out[0]
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if c := Compacted(e); c != nil {
				out[k] = c
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return t
	}
}
