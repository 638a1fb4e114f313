// Package channel models the extension messaging channel between the
// background context and tab contexts. Only JSON bytes cross it, every
// request gets at most one reply, and a background restart fails every
// request still waiting for one.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
)

// Handler receives a raw message and replies through reply. It returns
// true when it will reply after returning.
type Handler func(ctx context.Context, raw []byte, reply func([]byte)) bool

var (
	errNoReceiver = errors.New("could not establish connection, receiving end does not exist")
	errPortClosed = errors.New("the message port closed before a response was received")
	errRestarted  = errors.New("background context restarted")
	errBusClosed  = errors.New("channel closed")
)

// ChannelError wraps cause as a retryable channel failure.
func ChannelError(cause error) error {
	return shopagent.NewError(shopagent.KindChannel, shopagent.MessageChannel, cause, map[string]any{
		"cause": cause.Error(),
	})
}

type call struct {
	once sync.Once
	done chan result
}

type result struct {
	payload []byte
	err     error
}

func (c *call) resolve(payload []byte, err error) {
	c.once.Do(func() {
		var copied []byte
		if payload != nil {
			copied = append([]byte(nil), payload...)
		}
		c.done <- result{payload: copied, err: err}
	})
}

// Bus connects one background handler with any number of tab ports.
type Bus struct {
	mu      sync.Mutex
	handler Handler
	pending map[*call]struct{}
	ports   map[int]*Port
	closed  bool
	logger  shopagent.Logger
}

// NewBus creates a bus with no background handler.
func NewBus(logger shopagent.Logger) *Bus {
	if logger == nil {
		logger = shopagent.DefaultLogger()
	}
	return &Bus{
		pending: map[*call]struct{}{},
		ports:   map[int]*Port{},
		logger:  logger,
	}
}

// Serve installs the background handler.
func (b *Bus) Serve(handler Handler) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

// Connect returns the port of tabID, creating it on first use.
func (b *Bus) Connect(tabID int) *Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	if port, ok := b.ports[tabID]; ok {
		return port
	}
	port := &Port{tabID: tabID, bus: b}
	b.ports[tabID] = port
	return port
}

// SendToTab delivers msg to the content handler of tabID.
func (b *Bus) SendToTab(ctx context.Context, tabID int, msg any) ([]byte, error) {
	b.mu.Lock()
	port, ok := b.ports[tabID]
	b.mu.Unlock()
	if !ok {
		return nil, ChannelError(errNoReceiver)
	}

	port.mu.Lock()
	handler := port.handler
	port.mu.Unlock()

	return b.deliver(ctx, handler, msg)
}

// Tabs lists the connected tab ids.
func (b *Bus) Tabs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	tabs := make([]int, 0, len(b.ports))
	for id := range b.ports {
		tabs = append(tabs, id)
	}
	return tabs
}

// Restart drops the background handler and fails all pending requests.
// Sends fail until Serve is called again.
func (b *Bus) Restart() {
	b.mu.Lock()
	b.handler = nil
	pending := b.pending
	b.pending = map[*call]struct{}{}
	b.mu.Unlock()

	if len(pending) > 0 {
		b.logger.Warn("background restart dropped pending requests", "count", len(pending))
	}
	for c := range pending {
		c.resolve(nil, ChannelError(errRestarted))
	}
}

// Close fails any pending request and rejects all further sends.
func (b *Bus) Close() {
	b.Restart()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Bus) sendToBackground(ctx context.Context, msg any) ([]byte, error) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	return b.deliver(ctx, handler, msg)
}

func (b *Bus) deliver(ctx context.Context, handler Handler, msg any) ([]byte, error) {
	raw, err := encode(msg)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ChannelError(errBusClosed)
	}
	if handler == nil {
		b.mu.Unlock()
		return nil, ChannelError(errNoReceiver)
	}
	c := &call{done: make(chan result, 1)}
	b.pending[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, c)
		b.mu.Unlock()
	}()

	async := b.invoke(ctx, handler, raw, c)
	if !async {
		c.resolve(nil, ChannelError(errPortClosed))
	}

	select {
	case res := <-c.done:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ChannelError(ctx.Err())
	}
}

// invoke hands raw to handler. The handler context keeps the sender's
// values but not its cancellation: a dispatched request runs to completion
// even when the sender stops waiting.
func (b *Bus) invoke(ctx context.Context, handler Handler, raw []byte, c *call) (async bool) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("channel handler panic", "panic", rec)
			async = false
		}
	}()
	return handler(context.WithoutCancel(ctx), raw, func(payload []byte) {
		c.resolve(payload, nil)
	})
}

func encode(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		return append([]byte(nil), v...), nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, shopagent.ValidationError("message is not serialisable", map[string]any{"error": err.Error()})
	}
	return raw, nil
}

// Port is the channel end of one tab.
type Port struct {
	tabID   int
	bus     *Bus
	mu      sync.Mutex
	handler Handler
}

// TabID returns the tab the port belongs to.
func (p *Port) TabID() int {
	return p.tabID
}

// OnMessage installs the content handler for messages sent to the tab.
func (p *Port) OnMessage(handler Handler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// SendRaw sends msg to the background context and returns the raw reply.
func (p *Port) SendRaw(ctx context.Context, msg any) ([]byte, error) {
	return p.bus.sendToBackground(ctx, msg)
}

// Send sends an action request and decodes the Response.
func (p *Port) Send(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
	raw, err := p.SendRaw(ctx, req)
	if err != nil {
		return shopagent.Response{}, err
	}
	var resp shopagent.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return shopagent.Response{}, ChannelError(err)
	}
	return resp, nil
}

// ReportProduct sends PRODUCT_INFO_CAPTURED and decodes the acknowledgement.
func (p *Port) ReportProduct(ctx context.Context, info shopagent.ProductInfo) (shopagent.CaptureAck, error) {
	raw, err := p.SendRaw(ctx, shopagent.NewProductInfoMessage(info.Name, info.URL))
	if err != nil {
		return shopagent.CaptureAck{}, err
	}
	var ack shopagent.CaptureAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return shopagent.CaptureAck{}, ChannelError(err)
	}
	return ack, nil
}
