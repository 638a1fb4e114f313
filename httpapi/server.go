// Package httpapi exposes the background context over HTTP so contexts in
// other processes can send runtime messages and observe the session record.
package httpapi

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/channel"
	"github.com/goliatone/go-shopagent/httpapi/routes"
	"github.com/goliatone/go-shopagent/session"
	"github.com/valyala/fasthttp"
)

// Routes served by the API.
const (
	RouteMessages      = routes.Messages
	RouteSession       = routes.Session
	RouteSessionEvents = routes.SessionEvents
	RouteVerifyEmail   = routes.VerifyEmail
	RouteHealth        = routes.Health
)

const (
	DefaultRequestTimeout = 6 * time.Minute
	DefaultHeartbeat      = 15 * time.Second
)

// Dispatcher routes a raw runtime message. It matches router.DispatchJSON.
type Dispatcher interface {
	DispatchJSON(ctx context.Context, raw []byte, reply func([]byte)) bool
}

// EmailVerifier completes an email verification link.
type EmailVerifier interface {
	VerifyEmail(ctx context.Context, token string) (*shopagent.Identity, error)
}

// Server is the fiber app serving the runtime routes.
type Server struct {
	app        *fiber.App
	dispatcher Dispatcher
	reader     session.Reader
	verifier   EmailVerifier
	token      string
	timeout    time.Duration
	heartbeat  time.Duration

	done     chan struct{}
	doneOnce sync.Once

	logger         shopagent.Logger
	loggerProvider shopagent.LoggerProvider
}

// Option customizes the server.
type Option func(*Server)

// WithEmailVerifier serves RouteVerifyEmail through verifier.
func WithEmailVerifier(verifier EmailVerifier) Option {
	return func(s *Server) {
		s.verifier = verifier
	}
}

// WithAccessToken requires "Authorization: Bearer <token>" on message and
// session routes.
func WithAccessToken(token string) Option {
	return func(s *Server) {
		s.token = strings.TrimSpace(token)
	}
}

// WithRequestTimeout bounds how long a message request waits for a reply.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHeartbeat sets the keep alive interval of the event stream.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithLogger overrides the server logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(s *Server) {
		s.loggerProvider, s.logger = shopagent.ResolveLogger("shopagent.httpapi", s.loggerProvider, logger)
	}
}

// WithLoggerProvider resolves the server logger from provider.
func WithLoggerProvider(provider shopagent.LoggerProvider) Option {
	return func(s *Server) {
		s.loggerProvider, s.logger = shopagent.ResolveLogger("shopagent.httpapi", provider, s.logger)
	}
}

// New builds the server over dispatcher and the read only session view.
func New(dispatcher Dispatcher, reader session.Reader, opts ...Option) *Server {
	loggerProvider, logger := shopagent.ResolveLogger("shopagent.httpapi", nil, nil)
	s := &Server{
		dispatcher:     dispatcher,
		reader:         reader,
		timeout:        DefaultRequestTimeout,
		heartbeat:      DefaultHeartbeat,
		done:           make(chan struct{}),
		logger:         logger,
		loggerProvider: loggerProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "shopagent",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.app.Get(RouteHealth, s.health)
	s.app.Get(RouteVerifyEmail, s.verifyEmail)

	s.app.Use(s.authorize)
	s.app.Post(RouteMessages, s.messages)
	s.app.Get(RouteSession, s.session)
	s.app.Get(RouteSessionEvents, s.events)

	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http api listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http api listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown ends open event streams and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) authorize(c *fiber.Ctx) error {
	if s.token == "" {
		return c.Next()
	}
	header := c.Get(fiber.HeaderAuthorization)
	given := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(s.token)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid access token")
	}
	return c.Next()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) messages(c *fiber.Ctx) error {
	raw := append([]byte(nil), c.Body()...)

	ctx, cancel := context.WithTimeout(c.UserContext(), s.timeout)
	defer cancel()

	replies := make(chan []byte, 1)
	async := s.dispatcher.DispatchJSON(ctx, raw, func(payload []byte) {
		select {
		case replies <- append([]byte(nil), payload...):
		default:
			s.logger.Warn("duplicate reply dropped", "route", RouteMessages)
		}
	})

	if !async {
		select {
		case payload := <-replies:
			return c.Type("json").Send(payload)
		default:
			return s.channelFailure(c, fiber.StatusBadGateway, fmt.Errorf("dispatcher returned without a reply"))
		}
	}

	select {
	case payload := <-replies:
		return c.Type("json").Send(payload)
	case <-ctx.Done():
		s.logger.Warn("runtime message timed out", "timeout", s.timeout.String())
		return s.channelFailure(c, fiber.StatusGatewayTimeout, ctx.Err())
	}
}

func (s *Server) session(c *fiber.Ctx) error {
	state, err := s.reader.Read(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (s *Server) verifyEmail(c *fiber.Ctx) error {
	if s.verifier == nil {
		return fiber.NewError(fiber.StatusNotFound, "email verification is not configured")
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(shopagent.ErrorResponse(
			shopagent.ValidationError("verification token is required", map[string]any{"token": "required"}),
		))
	}

	identity, err := s.verifier.VerifyEmail(c.UserContext(), token)
	if err != nil {
		s.logger.Warn("email verification failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(shopagent.ErrorResponse(err))
	}
	return c.JSON(shopagent.Success(identity.UserID, "Email verified."))
}

// events streams the full record as server sent events: the current
// record first, then one event per committed write. The subscription is in
// place before the read so no commit falls between them.
func (s *Server) events(c *fiber.Ctx) error {
	latest := make(chan shopagent.SessionState, 1)
	unsubscribe := s.reader.Subscribe(func(change session.Change) {
		offerLatest(latest, change.Current)
	})

	current, err := s.reader.Read(c.UserContext())
	if err != nil {
		unsubscribe()
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()

		if err := writeEvent(w, current); err != nil {
			return
		}
		sent := current.Version
		for {
			select {
			case state := <-latest:
				if state.Version != 0 && state.Version <= sent {
					continue
				}
				if err := writeEvent(w, state); err != nil {
					s.logger.Debug("event stream closed", "error", err)
					return
				}
				sent = state.Version
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					s.logger.Debug("event stream closed", "error", err)
					return
				}
			case <-s.done:
				return
			}
		}
	}))
	return nil
}

func (s *Server) channelFailure(c *fiber.Ctx, status int, cause error) error {
	return c.Status(status).JSON(shopagent.ErrorResponse(channel.ChannelError(cause)))
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := shopagent.UserMessage(err)
	if ferr, ok := err.(*fiber.Error); ok {
		status = ferr.Code
		message = ferr.Message
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("http api request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(shopagent.Response{
		Status: shopagent.StatusError,
		Error:  message,
		Kind:   string(shopagent.KindOf(err)),
	})
}

// offerLatest replaces any undelivered record with state. Listeners run
// under the store lock and must not block.
func offerLatest(latest chan shopagent.SessionState, state shopagent.SessionState) {
	for {
		select {
		case latest <- state:
			return
		default:
		}
		select {
		case <-latest:
		default:
		}
	}
}

func writeEvent(w *bufio.Writer, state shopagent.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: session\ndata: %s\n\n", state.Version, payload); err != nil {
		return err
	}
	return w.Flush()
}
