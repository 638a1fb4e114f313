//go:build js && wasm
// +build js,wasm

package chromeext

import (
	"context"
	"encoding/json"
	"sync"
	"syscall/js"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/channel"
)

// ServeRuntime delivers chrome.runtime.onMessage traffic to handler. The
// listener always keeps the response channel open; a handler that returns
// without replying answers with undefined, which senders read as a broken
// channel. The returned function removes the listener.
func ServeRuntime(handler channel.Handler, logger shopagent.Logger) func() {
	if logger == nil {
		logger = shopagent.DefaultLogger()
	}

	listener := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 3 {
			return nil
		}
		raw := fromJS(args[0])
		sendResponse := args[2]

		go func() {
			var once sync.Once
			reply := func(payload []byte) {
				once.Do(func() {
					sendResponse.Invoke(toJS(payload))
				})
			}
			if !handler(context.Background(), raw, reply) {
				once.Do(func() {
					logger.Debug("runtime message closed without reply")
					sendResponse.Invoke()
				})
			}
		}()
		return true
	})

	onMessage := chromeAPI("runtime", "onMessage")
	onMessage.Call("addListener", listener)
	return func() {
		onMessage.Call("removeListener", listener)
		listener.Release()
	}
}

// RuntimePort sends messages from a tab to the background context through
// chrome.runtime.sendMessage. It implements content.Transport and
// content.Listener.
type RuntimePort struct {
	logger shopagent.Logger

	mu   sync.Mutex
	stop func()
}

// NewRuntimePort creates a port for the current tab.
func NewRuntimePort(logger shopagent.Logger) *RuntimePort {
	if logger == nil {
		logger = shopagent.DefaultLogger()
	}
	return &RuntimePort{logger: logger}
}

// SendRaw sends msg and returns the JSON encoded reply.
func (p *RuntimePort) SendRaw(ctx context.Context, msg any) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, channel.ChannelError(err)
	}
	value, err := invoke(ctx, chromeAPI("runtime"), "sendMessage", toJS(raw))
	if err != nil {
		return nil, channel.ChannelError(err)
	}
	if value.IsUndefined() || value.IsNull() {
		return nil, channel.ChannelError(errNoResponse)
	}
	return fromJS(value), nil
}

// Send sends an action request and decodes the Response.
func (p *RuntimePort) Send(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
	raw, err := p.SendRaw(ctx, req)
	if err != nil {
		return shopagent.Response{}, err
	}
	var resp shopagent.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return shopagent.Response{}, channel.ChannelError(err)
	}
	return resp, nil
}

// ReportProduct sends PRODUCT_INFO_CAPTURED and decodes the acknowledgement.
func (p *RuntimePort) ReportProduct(ctx context.Context, info shopagent.ProductInfo) (shopagent.CaptureAck, error) {
	raw, err := p.SendRaw(ctx, shopagent.NewProductInfoMessage(info.Name, info.URL))
	if err != nil {
		return shopagent.CaptureAck{}, err
	}
	var ack shopagent.CaptureAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return shopagent.CaptureAck{}, channel.ChannelError(err)
	}
	return ack, nil
}

// OnMessage routes messages sent to this tab to handler, replacing any
// previous handler.
func (p *RuntimePort) OnMessage(handler channel.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	if handler != nil {
		p.stop = ServeRuntime(handler, p.logger)
	}
}

// Close removes the tab listener.
func (p *RuntimePort) Close() {
	p.OnMessage(nil)
}
