package rules

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/metric"
	"github.com/c360/datacollector/record"
	"github.com/c360/datacollector/value"
)

func toInt(v any) int64 {
	n, _ := strconv.ParseInt(value.String(v), 10, 64)
	return n
}

func multiplyBy(n int64) *Callable {
	return Func1(fmt.Sprintf("times%d", n), func(v any) (any, error) {
		return toInt(v) * n, nil
	})
}

var languages = Lookup{"nl": "dut", "fr": "fre", "de": "ger", "en": "eng"}

func run(t *testing.T, set Set, input any, options map[string]any) *record.Record {
	t.Helper()
	out, err := Run(context.Background(), set, input, nil, options)
	require.NoError(t, err)
	return out
}

func TestRun_Text(t *testing.T) {
	out := run(t, Set{{Key: "plain_text_tag", Rule: Text{Literal: "hello world"}}}, map[string]any{}, nil)
	assert.Equal(t, []any{"hello world"}, out.Get("plain_text_tag"))
}

func TestRun_TextWithSuffix(t *testing.T) {
	set := Set{{Key: "tag", Rule: Text{Literal: []any{"hello_world"}, Payload: Suffix("-suffix")}}}
	out := run(t, set, map[string]any{}, nil)
	assert.Equal(t, []any{"hello_world-suffix"}, out.Get("tag"))
}

func TestRun_Lookup(t *testing.T) {
	set := Set{{Key: "language", Rule: Filter{Path: "@", Payload: languages}}}

	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"string input", "nl", []any{"dut"}},
		{"list input", []any{"nl", "fr"}, []any{"dut", "fre"}},
		{"unknown code dropped", []any{"nl", "xx"}, []any{"dut"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, set, tt.input, nil)
			assert.Equal(t, tt.want, out.Get("language"))
		})
	}
}

func TestRun_LookupNoMatchIsSuppressed(t *testing.T) {
	set := Set{{Key: "language", Rule: Filter{Path: "@", Payload: languages}}}
	out := run(t, set, []any{"xx", map[string]any{"nl": "x"}}, nil)
	assert.False(t, out.Has("language"))
}

func TestRun_Callable(t *testing.T) {
	set := Set{{Key: "multiple_of_2", Rule: Filter{Path: "@", Payload: multiplyBy(2)}}}
	out := run(t, set, "2", nil)
	assert.Equal(t, []any{int64(4)}, out.Get("multiple_of_2"))
}

func TestRun_ListRuleConcatenates(t *testing.T) {
	set := Set{{Key: "multiple_of", Rule: List{
		Filter{Path: "@", Payload: multiplyBy(2)},
		Filter{Path: "@", Payload: multiplyBy(3)},
	}}}
	out := run(t, set, "2", nil)
	assert.Equal(t, []any{int64(4), int64(6)}, out.Get("multiple_of"))
}

func TestRun_ListRuleSingleResult(t *testing.T) {
	set := Set{{Key: "k", Rule: List{
		Filter{Path: "$.missing"},
		Filter{Path: "$.title"},
	}}}
	out := run(t, set, map[string]any{"title": "t"}, nil)
	assert.Equal(t, []any{"t"}, out.Get("k"))
}

func TestRun_SequenceCallableThenSuffix(t *testing.T) {
	set := Set{{Key: "k", Rule: Filter{Path: "@", Payload: Sequence{multiplyBy(2), Suffix("-multiple_of_2")}}}}
	out := run(t, set, "2", nil)
	assert.Equal(t, []any{"4-multiple_of_2"}, out.Get("k"))
}

func TestRun_SequenceOfCallables(t *testing.T) {
	sqrt := Func1("sqrt", func(v any) (any, error) {
		return math.Sqrt(float64(toInt(v))), nil
	})
	set := Set{{Key: "k", Rule: Filter{Path: "@", Payload: Sequence{multiplyBy(2), sqrt}}}}
	out := run(t, set, "2", nil)

	got, ok := out.Get("k").([]any)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.0, got[0], 1e-9)
}

func TestRun_CallableReceivesOptions(t *testing.T) {
	var seen map[string]any
	subject := Func2("subject", func(v any, opts map[string]any) (any, error) {
		seen = opts
		return map[string]any{"doc_id": opts["id"], "subject": v}, nil
	})
	set := Set{{Key: "subjects", Rule: Filter{Path: "$..subject", Payload: subject}}}
	input := map[string]any{"subject": []any{"water", "thermodynamics"}}

	out := run(t, set, input, map[string]any{"id": 1, OptNoArrayWithOneElement: false})

	subjects, ok := out.Get("subjects").([]any)
	require.True(t, ok)
	require.Len(t, subjects, 2)
	first := subjects[0].(map[string]any)
	assert.Equal(t, int64(1), first["doc_id"])
	assert.Equal(t, "water", first["subject"])
	assert.NotContains(t, seen, OptNoArrayWithOneElement)
}

func TestRun_Func1GetsNoOptions(t *testing.T) {
	var got map[string]any = map[string]any{"sentinel": true}
	c := &Callable{Name: "probe", Fn: func(_ context.Context, v any, opts map[string]any) (any, error) {
		got = opts
		return v, nil
	}}
	run(t, Set{{Key: "k", Rule: Filter{Path: "@", Payload: c}}}, "x", map[string]any{"id": 1})
	assert.Nil(t, got)
}

func TestRun_BatchCallable(t *testing.T) {
	var calls int
	count := BatchFunc("count", func(values []any, _ map[string]any) (any, error) {
		calls++
		return len(values), nil
	})
	set := Set{{Key: "n", Rule: Filter{Path: "@", Payload: count}}}
	out := run(t, set, []any{"a", "b", "c"}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []any{int64(3)}, out.Get("n"))
}

func TestRun_Filter(t *testing.T) {
	out := run(t, Set{{Key: "only_filter", Rule: Filter{Path: "$.title"}}}, map[string]any{"title": "This is a title"}, nil)
	assert.Equal(t, []any{"This is a title"}, out.Get("only_filter"))
}

func TestRun_FilterPrefixedPath(t *testing.T) {
	out := run(t, Set{{Key: "t", Rule: Filter{Path: "json_path:$.title"}}}, map[string]any{"title": "x"}, nil)
	assert.Equal(t, []any{"x"}, out.Get("t"))
}

func TestRun_EmptyInputSuppressesFilters(t *testing.T) {
	for _, input := range []any{nil, map[string]any{}, []any{}, ""} {
		out := run(t, Set{{Key: "t", Rule: Filter{Path: "$.title"}}, {Key: "self", Rule: Filter{Path: "@"}}}, input, nil)
		assert.Equal(t, 0, out.Len(), "input %#v", input)
	}
}

func TestRun_FalsyValuesAreWritten(t *testing.T) {
	input := map[string]any{"flag": false, "count": 0, "name": ""}
	set := Set{
		{Key: "flag", Rule: Filter{Path: "$.flag"}},
		{Key: "count", Rule: Filter{Path: "$.count"}},
		{Key: "name", Rule: Filter{Path: "$.name"}},
	}
	out := run(t, set, input, map[string]any{OptNoArrayWithOneElement: true})

	assert.Equal(t, false, out.Get("flag"))
	assert.Equal(t, int64(0), out.Get("count"))
	assert.Equal(t, "", out.Get("name"))
}

func TestRun_Collapse(t *testing.T) {
	input := map[string]any{
		"title":  "world",
		"nested": []any{[]any{"a", "b"}},
		"obj":    map[string]any{"a": "b"},
	}
	set := Set{
		{Key: "title", Rule: Filter{Path: "$.title"}},
		{Key: "obj", Rule: Filter{Path: "$.obj"}},
	}

	tests := []struct {
		name      string
		options   map[string]any
		wantTitle any
		wantObj   any
	}{
		{"no flags", nil, []any{"world"}, []any{map[string]any{"a": "b"}}},
		{"element", map[string]any{OptNoArrayWithOneElement: true}, "world", map[string]any{"a": "b"}},
		{"literal", map[string]any{OptNoArrayWithOneLiteral: true}, "world", []any{map[string]any{"a": "b"}}},
		{"element alias", map[string]any{"no_array_with_one_element": true}, "world", map[string]any{"a": "b"}},
		{"literal alias as string", map[string]any{"no_array_with_one_literal": "true"}, "world", []any{map[string]any{"a": "b"}}},
		{"both", map[string]any{OptNoArrayWithOneLiteral: true, OptNoArrayWithOneElement: true}, "world", map[string]any{"a": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, set, input, tt.options)
			assert.Equal(t, tt.wantTitle, out.Get("title"))
			assert.Equal(t, tt.wantObj, out.Get("obj"))
		})
	}
}

func TestRun_TextCollapse(t *testing.T) {
	out := run(t, Set{{Key: "hello", Rule: Text{Literal: "world"}}}, map[string]any{},
		map[string]any{"no_array_with_one_element": true})
	assert.Equal(t, "world", out.Get("hello"))
}

func TestRun_SuffixRecursesAndStringifies(t *testing.T) {
	input := map[string]any{"v": []any{map[string]any{"a": "x", "b": 2}, true}}
	out := run(t, Set{{Key: "k", Rule: Filter{Path: "$.v", Payload: Suffix("!")}}}, input, nil)
	assert.Equal(t, []any{map[string]any{"a": "x!", "b": "2!"}, "true!"}, out.Get("k"))
}

func TestRun_KeysFollowSetOrder(t *testing.T) {
	set := Set{}.
		Add("z", Text{Literal: "1"}).
		Add("a", Text{Literal: "2"}).
		Add("m", Text{Literal: "3"})
	out := run(t, set, map[string]any{}, nil)
	assert.Equal(t, []string{"z", "a", "m"}, out.Keys())
}

func TestRun_Deterministic(t *testing.T) {
	set := Set{
		{Key: "title", Rule: Filter{Path: "$.title"}},
		{Key: "language", Rule: Filter{Path: "$.lang", Payload: languages}},
		{Key: "scores", Rule: Filter{Path: "$.scores[*]", Payload: multiplyBy(2)}},
		{Key: "tag", Rule: Text{Literal: "fixed", Payload: Suffix("-1")}},
		{Key: "all", Rule: List{Filter{Path: "$.title"}, Text{Literal: "x"}}},
	}
	input := map[string]any{"title": "Go", "lang": []any{"nl", "en"}, "scores": []any{1, 2, 3}}

	out := record.New()
	_, err := Run(context.Background(), set, input, out, nil)
	require.NoError(t, err)
	keys, first := out.Keys(), out.Raw()

	out.Clear()
	_, err = Run(context.Background(), set, input, out, nil)
	require.NoError(t, err)
	assert.Equal(t, keys, out.Keys())
	assert.Equal(t, first, out.Raw())
}

func TestRun_WritesIntoExistingRecord(t *testing.T) {
	out := record.New()
	out.Set("title", "first")

	_, err := Run(context.Background(), Set{{Key: "title", Rule: Filter{Path: "$.title"}}},
		map[string]any{"title": "second"}, out, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"first", "second"}, out.Get("title"))
}

func TestRun_ErrorsAbort(t *testing.T) {
	boom := Func1("boom", func(any) (any, error) { return nil, fmt.Errorf("boom") })
	set := Set{
		{Key: "before", Rule: Text{Literal: "ok"}},
		{Key: "bad", Rule: Filter{Path: "@", Payload: boom}},
		{Key: "after", Rule: Text{Literal: "never"}},
	}

	out, err := Run(context.Background(), set, "x", nil, nil)
	require.Error(t, err)

	var rerr *errors.RuleEvaluationError
	require.True(t, stderrors.As(err, &rerr))
	assert.Equal(t, "bad", rerr.Key)
	assert.Contains(t, err.Error(), "error running rule 'bad'")
	assert.True(t, out.Has("before"))
	assert.False(t, out.Has("after"))
}

func TestRun_PanicBecomesError(t *testing.T) {
	panics := Func1("panics", func(any) (any, error) { panic("kaboom") })
	_, err := Run(context.Background(), Set{{Key: "p", Rule: Filter{Path: "@", Payload: panics}}}, "x", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRun_MalformedPathIsError(t *testing.T) {
	_, err := Run(context.Background(), Set{{Key: "p", Rule: Filter{Path: "$["}}}, map[string]any{"a": 1}, nil, nil)
	assert.Error(t, err)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Set{{Key: "k", Rule: Text{Literal: "v"}}}, nil, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	engine := NewEngine(WithMetrics(registry))
	second := NewEngine(WithMetrics(registry))

	_, err := engine.Run(context.Background(), Set{{Key: "k", Rule: Text{Literal: "v"}}}, nil, nil, nil)
	require.NoError(t, err)
	_, err = second.Run(context.Background(), Set{{Key: "k", Rule: Filter{Path: "$["}}}, map[string]any{"a": 1}, nil, nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(engine.metrics.evaluations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(engine.metrics.evaluations.WithLabelValues("error")))
}
