package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

type gojaEngine struct {
	vm *goja.Runtime
}

func newGojaEngine() *gojaEngine {
	vm := goja.New()
	_ = vm.Set("console", map[string]any{
		"log": func(...any) {},
	})
	return &gojaEngine{vm: vm}
}

func (e *gojaEngine) run(name, src string) error {
	_, err := e.vm.RunScript(name, src)
	return e.convert(err)
}

func (e *gojaEngine) defined(fn string) bool {
	_, ok := goja.AssertFunction(e.vm.Get(fn))
	return ok
}

func (e *gojaEngine) bind(name string, fn func(arg string)) {
	_ = e.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			fn("")
		} else {
			fn(arg.String())
		}
		return goja.Undefined()
	})
}

// call invokes fn and settles a returned promise. Promise jobs are drained
// when control leaves the runtime, so anything still pending afterwards is
// waiting on an event that will never come.
func (e *gojaEngine) call(ctx context.Context, fn string, args ...any) error {
	f, ok := goja.AssertFunction(e.vm.Get(fn))
	if !ok {
		return fmt.Errorf("%s function not found in script", fn)
	}

	values := make([]goja.Value, len(args))
	for i, a := range args {
		if g, ok := a.(global); ok {
			values[i] = e.vm.Get(string(g))
			continue
		}
		values[i] = e.vm.ToValue(a)
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		e.vm.Interrupt(ctx.Err())
		close(fired)
	})
	res, err := f(goja.Undefined(), values...)
	if !stop() {
		// The interrupt may land after the call returned; wait for it so the
		// clear cannot run first and leak into the next call.
		<-fired
		e.vm.ClearInterrupt()
	}
	if err != nil {
		return e.convert(err)
	}

	if res == nil {
		return nil
	}
	p, ok := res.Export().(*goja.Promise)
	if !ok {
		return nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return nil
	case goja.PromiseStateRejected:
		return e.thrown(p.Result())
	default:
		return fmt.Errorf("%s: promise did not settle", fn)
	}
}

func (e *gojaEngine) convert(err error) error {
	if err == nil {
		return nil
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if cause, ok := ie.Value().(error); ok {
			return cause
		}
		return err
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return e.thrown(ex.Value())
	}
	return err
}

// thrown converts a thrown or rejected JS value into *Error.
func (e *gojaEngine) thrown(v goja.Value) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &Error{Message: "undefined"}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return &Error{Message: v.String()}
	}
	out := &Error{}
	if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) && !goja.IsNull(n) {
		out.Name = n.String()
	}
	if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) && !goja.IsNull(m) {
		out.Message = m.String()
	}
	if out.Name == "" && out.Message == "" {
		out.Message = v.String()
	}
	return out
}
