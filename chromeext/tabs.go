//go:build js && wasm
// +build js,wasm

package chromeext

import (
	"context"
	"encoding/json"
	"syscall/js"

	"github.com/goliatone/go-shopagent/channel"
)

// SendToTab delivers msg to the content context of tabID and returns the
// JSON encoded reply.
func SendToTab(ctx context.Context, tabID int, msg any) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, channel.ChannelError(err)
	}
	value, err := invoke(ctx, chromeAPI("tabs"), "sendMessage", tabID, toJS(raw))
	if err != nil {
		return nil, channel.ChannelError(err)
	}
	if value.IsUndefined() || value.IsNull() {
		return nil, channel.ChannelError(errNoResponse)
	}
	return fromJS(value), nil
}

// OnActionClicked calls fn with the tab id whenever the toolbar icon is
// clicked. fn runs on its own goroutine.
func OnActionClicked(fn func(tabID int)) func() {
	listener := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		id := args[0].Get("id")
		if id.Type() != js.TypeNumber {
			return nil
		}
		go fn(id.Int())
		return nil
	})

	onClicked := chromeAPI("action", "onClicked")
	onClicked.Call("addListener", listener)
	return func() {
		onClicked.Call("removeListener", listener)
		listener.Release()
	}
}
