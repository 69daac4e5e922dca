// Package record provides the output record that rule runs accumulate into.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c360/datacollector/value"
)

// ListKey holds lists appended to a record without a key.
const ListKey = "datap"

// Record is an ordered, key-unique accumulator with merge-or-append writes.
// Keys are case-preserving and iterate in first-insertion order. A Record is
// safe for concurrent use.
type Record struct {
	mu   sync.RWMutex
	keys []string
	data map[string]any
}

// New returns an empty record.
func New() *Record {
	return &Record{data: make(map[string]any)}
}

// FromMap returns a record holding the entries of m in sorted key order.
func FromMap(m map[string]any) *Record {
	r := New()
	r.Append(m)
	return r
}

// Set writes v under key.
//
//   - absent key: v is stored as-is
//   - existing list: a list v is concatenated, anything else is appended
//   - existing scalar: converted to a list holding the old value, then v is
//     appended or concatenated
//   - existing map: overwritten
//
// A nil v is ignored.
func (r *Record) Set(key string, v any) {
	if v == nil {
		return
	}
	v = value.Normalize(v)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(key, v)
}

func (r *Record) setLocked(key string, v any) {
	if r.data == nil {
		r.data = make(map[string]any)
	}
	current, exists := r.data[key]
	if !exists {
		r.keys = append(r.keys, key)
		r.data[key] = v
		return
	}

	switch cur := current.(type) {
	case []any:
		r.data[key] = appendValue(cur, v)
	case map[string]any:
		r.data[key] = v
	default:
		r.data[key] = appendValue([]any{cur}, v)
	}
}

func appendValue(list []any, v any) []any {
	out := make([]any, len(list), len(list)+1)
	copy(out, list)
	if incoming, ok := v.([]any); ok {
		return append(out, incoming...)
	}
	return append(out, v)
}

// Append bulk-ingests data. Maps and records apply Set for every entry in
// their order (maps in sorted key order). A list is accumulated under ListKey.
func (r *Record) Append(data any) {
	switch t := data.(type) {
	case nil:
		return
	case *Record:
		t.Range(func(k string, v any) bool {
			r.Set(k, v)
			return true
		})
	case map[string]any:
		for _, k := range value.SortedKeys(t) {
			r.Set(k, t[k])
		}
	default:
		switch n := value.Normalize(data).(type) {
		case map[string]any:
			r.Append(n)
		case []any:
			r.mu.Lock()
			if r.data == nil {
				r.data = make(map[string]any)
			}
			existing, _ := r.data[ListKey].([]any)
			merged := value.Compact(value.Flatten1(append(append([]any{}, existing...), n...)))
			if _, ok := r.data[ListKey]; !ok {
				r.keys = append(r.keys, ListKey)
			}
			r.data[ListKey] = merged
			r.mu.Unlock()
		}
	}
}

// Get returns the value stored under key, or nil.
func (r *Record) Get(key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[key]
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data[key]
	return ok
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys.
func (r *Record) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Range calls fn for each entry in insertion order until fn returns false.
// fn runs on a snapshot so it may write back to the record.
func (r *Record) Range(fn func(key string, v any) bool) {
	r.mu.RLock()
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i] = r.data[k]
	}
	r.mu.RUnlock()

	for i, k := range keys {
		if !fn(k, vals[i]) {
			return
		}
	}
}

// Clear resets the record to an empty store. Values handed out earlier are
// no longer reachable through the record.
func (r *Record) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = nil
	r.data = make(map[string]any)
}

// Raw returns a deep copy of the stored entries.
func (r *Record) Raw() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.data))
	for k, v := range r.data {
		out[k] = value.Clone(v)
	}
	return out
}

// Crush removes nil values, blank strings and the empty containers they
// leave behind, in place. Lists left with one element collapse to it.
func (r *Record) Crush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.keys[:0]
	for _, k := range r.keys {
		c := value.Compacted(r.data[k])
		if c == nil {
			delete(r.data, k)
			continue
		}
		r.data[k] = c
		keys = append(keys, k)
	}
	r.keys = keys
}

// MarshalJSON encodes the record as a JSON object in key insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.data[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the record content with a JSON object, keeping the
// document's key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record: expected JSON object")
	}

	r.Clear()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		r.Set(key, v)
	}
	_, err = dec.Token()
	return err
}
