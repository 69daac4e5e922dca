package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/rules"
	"github.com/c360/datacollector/value"
)

// jsFunc owns one goja runtime. Runtimes are not goroutine safe, so calls
// are serialized.
type jsFunc struct {
	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// JavaScript compiles src, a function expression, into a callable.
func JavaScript(name, src string) (*rules.Callable, error) {
	prog, err := goja.Compile(name, "("+src+")", true)
	if err != nil {
		return nil, errors.WrapInvalid(err, "script", "JavaScript", "compile")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, errors.WrapInvalid(err, "script", "JavaScript", "evaluate function expression")
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: not a function", name), "script", "JavaScript", "assert function")
	}

	arity := v.ToObject(vm).Get("length").ToInteger()
	f := &jsFunc{vm: vm, fn: fn}
	return &rules.Callable{
		Name:         name,
		NeedsOptions: arity >= 2,
		Fn:           f.call,
	}, nil
}

func (f *jsFunc) call(ctx context.Context, v any, opts map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { f.vm.Interrupt(ctx.Err()) })
	defer func() {
		stop()
		f.vm.ClearInterrupt()
	}()

	args := []goja.Value{f.vm.ToValue(v)}
	if opts != nil {
		args = append(args, f.vm.ToValue(opts))
	}
	res, err := f.fn(goja.Undefined(), args...)
	if err != nil {
		return nil, err
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	return value.Normalize(res.Export()), nil
}
