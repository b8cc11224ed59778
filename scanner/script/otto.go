package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/robertkrimen/otto"
)

// ottoPrelude wraps calls so thrown values come back as data instead of
// otto's formatted error strings.
const ottoPrelude = `
var __qrplayCall = (function (root) {
	return function (name) {
		var args = Array.prototype.slice.call(arguments, 1);
		try {
			root[name].apply(root, args);
			return null;
		} catch (e) {
			if (e !== null && typeof e === "object") {
				return JSON.stringify({name: String(e.name || ""), message: String(e.message || "")});
			}
			return JSON.stringify({name: "", message: String(e)});
		}
	};
})(this);
`

var errHalt = errors.New("script interrupted")

type ottoEngine struct {
	vm *otto.Otto
}

func newOttoEngine() *ottoEngine {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)
	if _, err := vm.Run(ottoPrelude); err != nil {
		panic(fmt.Sprintf("otto prelude: %v", err))
	}
	return &ottoEngine{vm: vm}
}

func (e *ottoEngine) run(name, src string) error {
	if _, err := e.vm.Run(src); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (e *ottoEngine) defined(fn string) bool {
	v, err := e.vm.Get(fn)
	return err == nil && v.IsFunction()
}

func (e *ottoEngine) bind(name string, fn func(arg string)) {
	_ = e.vm.Set(name, func(call otto.FunctionCall) otto.Value {
		arg := call.Argument(0)
		if arg.IsUndefined() || arg.IsNull() {
			fn("")
		} else {
			fn(arg.String())
		}
		return otto.UndefinedValue()
	})
}

func (e *ottoEngine) call(ctx context.Context, fn string, args ...any) (err error) {
	if !e.defined(fn) {
		return fmt.Errorf("%s function not found in script", fn)
	}

	values := make([]interface{}, 0, len(args)+1)
	values = append(values, fn)
	for _, a := range args {
		switch v := a.(type) {
		case global:
			gv, gerr := e.vm.Get(string(v))
			if gerr != nil {
				return gerr
			}
			values = append(values, gv)
		case map[string]interface{}:
			obj, oerr := e.object(v)
			if oerr != nil {
				return oerr
			}
			values = append(values, obj)
		default:
			values = append(values, v)
		}
	}

	sent := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		e.vm.Interrupt <- func() { panic(errHalt) }
		close(sent)
	})
	defer func() {
		if !stop() {
			<-sent
			select {
			case <-e.vm.Interrupt:
			default:
			}
		}
		if r := recover(); r != nil {
			if r != errHalt {
				panic(r)
			}
			err = ctx.Err()
		}
	}()

	res, err := e.vm.Call("__qrplayCall", nil, values...)
	if err != nil {
		return err
	}
	if res.IsNull() || res.IsUndefined() {
		return nil
	}
	var out Error
	if jerr := json.Unmarshal([]byte(res.String()), &out); jerr != nil {
		return &Error{Message: res.String()}
	}
	if out.Name == "" && out.Message == "" {
		out.Message = "undefined"
	}
	return &out
}

// object builds a plain JS object so scripts see ordinary properties rather
// than a wrapped Go map.
func (e *ottoEngine) object(m map[string]interface{}) (otto.Value, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return otto.UndefinedValue(), err
	}
	obj, err := e.vm.Object("(" + string(raw) + ")")
	if err != nil {
		return otto.UndefinedValue(), err
	}
	return obj.Value(), nil
}
