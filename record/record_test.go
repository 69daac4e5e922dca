package record

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Set(t *testing.T) {
	tests := []struct {
		name   string
		writes []any
		want   any
	}{
		{"single scalar", []any{"a"}, "a"},
		{"scalar twice becomes list", []any{"a", "b"}, []any{"a", "b"}},
		{"scalar three times appends", []any{"a", "b", "c"}, []any{"a", "b", "c"}},
		{"list then scalar appends", []any{[]any{"a"}, "b"}, []any{"a", "b"}},
		{"list then list concatenates", []any{[]any{"a"}, []any{"b", "c"}}, []any{"a", "b", "c"}},
		{"scalar then list concatenates", []any{"a", []any{"b", "c"}}, []any{"a", "b", "c"}},
		{"map overwritten", []any{map[string]any{"x": 1}, map[string]any{"y": 2}}, map[string]any{"y": int64(2)}},
		{"nil ignored", []any{"a", nil}, "a"},
		{"false kept", []any{false}, false},
		{"zero kept", []any{0}, int64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			for _, w := range tt.writes {
				r.Set("key", w)
			}
			assert.Equal(t, tt.want, r.Get("key"))
		})
	}
}

func TestRecord_SetDoesNotAliasInput(t *testing.T) {
	r := New()
	first := []any{"a"}
	r.Set("k", first)
	r.Set("k", "b")

	assert.Equal(t, []any{"a"}, first)
	assert.Equal(t, []any{"a", "b"}, r.Get("k"))
}

func TestRecord_KeysPreserveInsertionOrder(t *testing.T) {
	r := New()
	r.Set("zeta", 1)
	r.Set("Alpha", 2)
	r.Set("mid", 3)
	r.Set("zeta", 4)

	assert.Equal(t, []string{"zeta", "Alpha", "mid"}, r.Keys())
	assert.Equal(t, 3, r.Len())
}

func TestRecord_Append(t *testing.T) {
	r := New()
	r.Set("title", "one")

	r.Append(map[string]any{"title": "two", "author": "x"})

	assert.Equal(t, []any{"one", "two"}, r.Get("title"))
	assert.Equal(t, "x", r.Get("author"))

	other := New()
	other.Set("b", 1)
	other.Set("a", 2)
	r.Append(other)
	assert.Equal(t, []string{"title", "author", "b", "a"}, r.Keys())
}

func TestRecord_AppendList(t *testing.T) {
	r := New()
	r.Append([]any{"a", nil, []any{"b"}})
	r.Append([]any{"c"})

	assert.Equal(t, []any{"a", "b", "c"}, r.Get(ListKey))
}

func TestRecord_Clear(t *testing.T) {
	r := New()
	r.Set("a", 1)
	r.Clear()

	assert.Nil(t, r.Get("a"))
	assert.False(t, r.Has("a"))
	assert.Empty(t, r.Keys())
}

func TestRecord_Crush(t *testing.T) {
	r := New()
	r.Set("empty", "")
	r.Set("list", []any{"", "x"})
	r.Set("keep", false)
	r.Set("pair", []any{"a", nil, "b"})

	r.Crush()

	assert.Equal(t, []string{"list", "keep", "pair"}, r.Keys())
	assert.Equal(t, "x", r.Get("list"))
	assert.Equal(t, []any{"a", "b"}, r.Get("pair"))
}

func TestRecord_JSONRoundTripKeepsOrder(t *testing.T) {
	r := New()
	r.Set("b", "1")
	r.Set("a", []any{"x", "y"})

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"b":"1","a":["x","y"]}`, string(data))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"b", "a"}, back.Keys())
	assert.Equal(t, []any{"x", "y"}, back.Get("a"))
}

func TestRecord_ConcurrentSet(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Set("k", []any{"v"})
		}()
	}
	wg.Wait()

	assert.Len(t, r.Get("k"), 50)
}

func TestRecord_RawIsCopy(t *testing.T) {
	r := New()
	r.Set("k", []any{"a"})

	raw := r.Raw()
	raw["k"].([]any)[0] = "changed"

	assert.Equal(t, []any{"a"}, r.Get("k"))
}
