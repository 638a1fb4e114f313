//go:build js && wasm
// +build js,wasm

package chromeext

import (
	"context"
	"errors"
	"syscall/js"
)

var errNoResponse = errors.New("no response")

func chromeAPI(path ...string) js.Value {
	v := js.Global().Get("chrome")
	for _, name := range path {
		if v.IsUndefined() || v.IsNull() {
			return js.Undefined()
		}
		v = v.Get(name)
	}
	return v
}

// lastError reads chrome.runtime.lastError, nil when unset.
func lastError() error {
	le := chromeAPI("runtime", "lastError")
	if le.IsUndefined() || le.IsNull() {
		return nil
	}
	msg := le.Get("message")
	if msg.Type() != js.TypeString {
		return errors.New("chrome runtime error")
	}
	return errors.New(msg.String())
}

type callResult struct {
	value js.Value
	err   error
}

// invoke calls target[method](args..., callback) and waits for the callback.
func invoke(ctx context.Context, target js.Value, method string, args ...any) (js.Value, error) {
	if target.IsUndefined() || target.IsNull() {
		return js.Undefined(), errors.New("chrome api unavailable: " + method)
	}

	done := make(chan callResult, 1)
	var cb js.Func
	cb = js.FuncOf(func(this js.Value, cbArgs []js.Value) interface{} {
		defer cb.Release()
		if err := lastError(); err != nil {
			done <- callResult{err: err}
			return nil
		}
		value := js.Undefined()
		if len(cbArgs) > 0 {
			value = cbArgs[0]
		}
		done <- callResult{value: value}
		return nil
	})

	target.Call(method, append(args, cb)...)

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return js.Undefined(), ctx.Err()
	}
}

func toJS(raw []byte) js.Value {
	return js.Global().Get("JSON").Call("parse", string(raw))
}

func fromJS(v js.Value) []byte {
	if v.IsUndefined() {
		return nil
	}
	return []byte(js.Global().Get("JSON").Call("stringify", v).String())
}
