// Package content is the content context injected into retailer pages. It
// reports the captured product to the background context and mounts the
// panel on supported product pages.
package content

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/channel"
	"github.com/goliatone/go-shopagent/pagematch"
	"github.com/goliatone/go-shopagent/panel"
	"github.com/goliatone/go-shopagent/session"
)

// Transport carries messages from the content context to the background
// context. channel.Port, client.Client and chromeext.RuntimePort implement it.
type Transport interface {
	panel.Sender
	ReportProduct(ctx context.Context, info shopagent.ProductInfo) (shopagent.CaptureAck, error)
}

// Listener is implemented by transports that deliver background messages
// to the tab.
type Listener interface {
	OnMessage(handler channel.Handler)
}

// Page is the loaded document.
type Page struct {
	URL  string
	HTML string
}

// Result describes what Run did for a page.
type Result struct {
	Info    pagematch.PageInfo    `json:"info"`
	Capture *shopagent.CaptureAck `json:"capture,omitempty"`
	Mounted bool                  `json:"mounted"`
}

// Script runs once per loaded page.
type Script struct {
	transport Transport
	reader    session.Reader
	matcher   *pagematch.Matcher
	panelOpts []panel.Option

	mu    sync.Mutex
	panel *panel.Controller

	logger         shopagent.Logger
	loggerProvider shopagent.LoggerProvider
}

// Option customizes the script.
type Option func(*Script)

// WithMatcher replaces the default supported page matcher.
func WithMatcher(m *pagematch.Matcher) Option {
	return func(s *Script) {
		if m != nil {
			s.matcher = m
		}
	}
}

// WithPanelOptions are passed to the mounted panel controller.
func WithPanelOptions(opts ...panel.Option) Option {
	return func(s *Script) {
		s.panelOpts = append(s.panelOpts, opts...)
	}
}

// WithLogger overrides the script logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(s *Script) {
		s.loggerProvider, s.logger = shopagent.ResolveLogger("shopagent.content", s.loggerProvider, logger)
	}
}

// WithLoggerProvider resolves the script and panel loggers from provider.
func WithLoggerProvider(provider shopagent.LoggerProvider) Option {
	return func(s *Script) {
		s.loggerProvider, s.logger = shopagent.ResolveLogger("shopagent.content", provider, s.logger)
	}
}

// New creates the content script for one tab.
func New(transport Transport, reader session.Reader, opts ...Option) *Script {
	loggerProvider, logger := shopagent.ResolveLogger("shopagent.content", nil, nil)
	s := &Script{
		transport:      transport,
		reader:         reader,
		matcher:        pagematch.NewMatcher(),
		logger:         logger,
		loggerProvider: loggerProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run extracts the page info, reports it when a title is present and
// mounts the panel when the page is supported. A failed report is logged
// and never blocks mounting. The error is the extraction failure, if any.
func (s *Script) Run(ctx context.Context, page Page) (Result, error) {
	info, extractErr := pagematch.ExtractPageInfo(strings.NewReader(page.HTML), page.URL)
	if extractErr != nil {
		s.logger.Warn("page info extraction failed", "url", page.URL, "error", extractErr)
	}
	result := Result{Info: info}

	if info.HasTitle() {
		ack, err := s.transport.ReportProduct(ctx, shopagent.ProductInfo{Name: *info.Title, URL: info.URL})
		if err != nil {
			s.logger.Error("product capture report failed", "url", info.URL, "error", err)
		} else {
			result.Capture = &ack
			s.logger.Debug("product capture acknowledged", "key", ack.StoredKey, "success", ack.Success)
		}
	} else {
		s.logger.Warn("no product title found", "url", page.URL)
	}

	if !s.matcher.IsSupportedPage(page.URL) {
		s.logger.Debug("page not supported, panel not mounted", "url", page.URL)
		return result, extractErr
	}

	s.mount(ctx)
	result.Mounted = true
	return result, extractErr
}

// Panel returns the mounted controller, nil before a supported page ran.
func (s *Script) Panel() *panel.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel
}

// HandleMessage answers togglePanel from the background context. Without
// a mounted panel there is no receiver.
func (s *Script) HandleMessage(_ context.Context, raw []byte, reply func([]byte)) bool {
	var msg shopagent.TogglePanelMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Action != shopagent.ActionTogglePanel {
		return false
	}

	controller := s.Panel()
	if controller == nil {
		return false
	}

	open := controller.Toggle()
	payload, err := json.Marshal(shopagent.TogglePanelAck{Status: shopagent.PanelToggledStatus, Open: open})
	if err != nil {
		return false
	}
	reply(payload)
	return false
}

// Close unmounts the panel.
func (s *Script) Close() {
	s.mu.Lock()
	controller := s.panel
	s.panel = nil
	s.mu.Unlock()
	if controller != nil {
		controller.Unmount()
	}
}

func (s *Script) mount(ctx context.Context) {
	s.mu.Lock()
	if s.panel != nil {
		s.mu.Unlock()
		return
	}
	opts := append([]panel.Option{panel.WithLoggerProvider(s.loggerProvider)}, s.panelOpts...)
	controller := panel.New(s.transport, s.reader, opts...)
	s.panel = controller
	s.mu.Unlock()

	if err := controller.Mount(ctx); err != nil {
		s.logger.Warn("panel mounted without initial state", "error", err)
	}

	if l, ok := s.transport.(Listener); ok {
		l.OnMessage(s.HandleMessage)
	}
	s.logger.Info("panel mounted", "view", controller.View().String())
}
