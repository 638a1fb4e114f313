package background

import (
	"context"
	"encoding/json"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/capture"
	"github.com/goliatone/go-shopagent/channel"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/goliatone/go-shopagent/insights"
	"github.com/goliatone/go-shopagent/router"
	"github.com/goliatone/go-shopagent/session"
)

// Restorer is implemented by providers that can restore a persisted
// session on startup.
type Restorer interface {
	Restore(ctx context.Context) (*shopagent.Identity, error)
}

// Dependencies are the collaborators of the background context.
type Dependencies struct {
	Provider     gateway.IdentityProvider
	Flow         gateway.InteractiveFlow
	Backend      session.Backend
	Recorder     capture.Recorder
	Insights     insights.Service
	Bus          *channel.Bus
	ActivitySink shopagent.ActivitySink
}

// Service is the background context.
type Service struct {
	config   *shopagent.Config
	provider gateway.IdentityProvider
	store    *session.Store
	gateway  *gateway.Gateway
	router   *router.Router
	bus      *channel.Bus
	recorder capture.Recorder

	mu      sync.Mutex
	unbind  func()
	running bool

	logger         shopagent.Logger
	loggerProvider shopagent.LoggerProvider
}

// Option customizes the service.
type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(s *Service) {
		s.loggerProvider, s.logger = shopagent.ResolveLogger("shopagent.background", s.loggerProvider, logger)
	}
}

// WithLoggerProvider resolves every component logger from provider.
func WithLoggerProvider(provider shopagent.LoggerProvider) Option {
	return func(s *Service) {
		s.loggerProvider, s.logger = shopagent.ResolveLogger("shopagent.background", provider, s.logger)
	}
}

// New wires the background context from cfg and deps.
func New(cfg *shopagent.Config, deps Dependencies, opts ...Option) *Service {
	if cfg == nil {
		cfg = shopagent.DefaultConfig()
	}

	loggerProvider, logger := shopagent.ResolveLogger("shopagent.background", nil, nil)
	s := &Service{
		config:         cfg,
		provider:       deps.Provider,
		bus:            deps.Bus,
		recorder:       deps.Recorder,
		logger:         logger,
		loggerProvider: loggerProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.bus == nil {
		s.bus = channel.NewBus(s.loggerProvider.GetLogger("shopagent.channel"))
	}
	if s.recorder == nil {
		s.recorder = capture.NewMemoryRecorder()
	}

	s.store = session.NewStore(deps.Backend,
		session.WithActivitySink(deps.ActivitySink),
		session.WithLoggerProvider(s.loggerProvider),
	)

	gwOpts := []gateway.Option{
		gateway.WithTimeout(cfg.Auth.GetProviderTimeout()),
		gateway.WithInteractiveTimeout(cfg.Auth.GetInteractiveTimeout()),
		gateway.WithActivitySink(deps.ActivitySink),
		gateway.WithLoggerProvider(s.loggerProvider),
	}
	if deps.Flow != nil {
		gwOpts = append(gwOpts, gateway.WithInteractiveFlow(deps.Flow))
	}
	s.gateway = gateway.New(deps.Provider, gwOpts...)

	s.router = router.New(
		router.WithMinPasswordLength(cfg.Auth.GetMinPasswordLength()),
		router.WithCaptureHandler(s.captureHandler(deps.ActivitySink)),
		router.WithLoggerProvider(s.loggerProvider),
	)
	s.router.RegisterAuth(s.gateway)

	svc := deps.Insights
	if svc == nil {
		svc = insights.NewMockService(insights.DefaultMockDelay)
	}
	s.router.RegisterInsights(insights.RequireActiveSession(s.store.Reader(), svc))

	return s
}

func (s *Service) captureHandler(sink shopagent.ActivitySink) router.CaptureHandler {
	return func(ctx context.Context, info shopagent.ProductInfo) (string, error) {
		key, err := s.recorder.Record(ctx, info)
		if err != nil {
			return "", err
		}
		shopagent.RecordActivity(ctx, sink, s.logger, shopagent.ActivityEvent{
			EventType: shopagent.ActivityEventProductCaptured,
			Metadata: map[string]any{
				"key":  key,
				"name": info.Name,
				"url":  info.URL,
			},
		})
		return key, nil
	}
}

// Start binds auth state propagation, restores a persisted session and
// serves the router on the bus.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.unbind = BindAuthState(s.provider, s.store, s.loggerProvider.GetLogger("shopagent.background.auth"))

	if restorer, ok := s.provider.(Restorer); ok {
		identity, err := restorer.Restore(ctx)
		if err != nil {
			s.logger.Warn("session restore failed", "error", err)
		} else if identity != nil {
			s.logger.Info("session restored", "user_id", identity.UserID)
		}
	}

	s.bus.Serve(s.router.DispatchJSON)
	s.running = true
	s.logger.Info("background context started", "actions", len(s.router.Actions()))
	return nil
}

// Restart simulates the background context being torn down and brought
// back: in-flight requests fail with a channel error, state is kept.
func (s *Service) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Stop unbinds propagation, waits for in-flight handlers and stops
// serving the bus.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.bus.Restart()
	if s.unbind != nil {
		s.unbind()
		s.unbind = nil
	}
	s.running = false
	s.logger.Info("background context stopped")
}

// Close stops the service and waits for handlers to finish.
func (s *Service) Close() {
	s.Stop()
	s.router.Wait()
}

// Store returns the owned session store.
func (s *Service) Store() *session.Store {
	return s.store
}

// Reader returns the read-only session view handed to other contexts.
func (s *Service) Reader() session.Reader {
	return s.store.Reader()
}

// Router returns the message router.
func (s *Service) Router() *router.Router {
	return s.router
}

// Gateway returns the auth gateway.
func (s *Service) Gateway() *gateway.Gateway {
	return s.gateway
}

// Bus returns the messaging channel.
func (s *Service) Bus() *channel.Bus {
	return s.bus
}

// Dispatch routes a request directly, bypassing the bus.
func (s *Service) Dispatch(ctx context.Context, req shopagent.Request, reply router.Reply) bool {
	return s.router.Dispatch(ctx, req, reply)
}

// TogglePanel asks the content context of tabID to toggle its panel, as
// the browser action click does.
func (s *Service) TogglePanel(ctx context.Context, tabID int) (shopagent.TogglePanelAck, error) {
	raw, err := s.bus.SendToTab(ctx, tabID, shopagent.TogglePanelMessage{Action: shopagent.ActionTogglePanel})
	if err != nil {
		s.logger.Error("toggle panel failed", "tab", tabID, "error", err)
		return shopagent.TogglePanelAck{}, err
	}

	var ack shopagent.TogglePanelAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return shopagent.TogglePanelAck{}, channel.ChannelError(err)
	}
	s.logger.Debug("toggle panel acknowledged", "tab", tabID, "open", ack.Open)
	return ack, nil
}
