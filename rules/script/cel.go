package script

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/rules"
	"github.com/c360/datacollector/value"
)

// celCostLimit bounds the work a single evaluation may do.
const celCostLimit = 1000000

var celEnv, celEnvErr = cel.NewEnv(
	cel.Variable("d", cel.DynType),
	cel.Variable("o", cel.MapType(cel.StringType, cel.DynType)),
)

// CEL compiles expr into a callable. The expression sees the value as d and
// the rule options as o.
func CEL(name, expr string) (*rules.Callable, error) {
	if celEnvErr != nil {
		return nil, errors.WrapFatal(celEnvErr, "script", "CEL", "create environment")
	}

	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: %w", name, issues.Err()), "script", "CEL", "compile")
	}
	prog, err := celEnv.Program(ast, cel.CostLimit(celCostLimit), cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, errors.WrapInvalid(err, "script", "CEL", "create program")
	}

	return &rules.Callable{
		Name:         name,
		NeedsOptions: true,
		Fn: func(ctx context.Context, v any, opts map[string]any) (any, error) {
			if opts == nil {
				opts = map[string]any{}
			}
			out, _, err := prog.ContextEval(ctx, map[string]any{"d": v, "o": opts})
			if err != nil {
				return nil, err
			}
			return native(out), nil
		},
	}, nil
}

// native converts a CEL result into the value package's closed set.
func native(v ref.Val) any {
	switch t := v.(type) {
	case nil:
		return nil
	case types.Null:
		return nil
	case traits.Mapper:
		out := make(map[string]any)
		it := t.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[value.String(value.Normalize(k.Value()))] = native(t.Get(k))
		}
		return out
	case traits.Lister:
		var out []any
		it := t.Iterator()
		for it.HasNext() == types.True {
			out = append(out, native(it.Next()))
		}
		if out == nil {
			out = []any{}
		}
		return out
	default:
		return value.Normalize(v.Value())
	}
}
