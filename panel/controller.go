package panel

import (
	"context"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/session"
)

// Notices shown after successful actions.
const (
	NoticeSignedUp             = "Account created! Please check your email for a verification link."
	NoticeVerificationResent   = "Verification email sent successfully!"
	MessageInitialStateFailure = "Failed to load initial authentication state."
	MessageBusy                = "Please wait for the current request to finish."
)

// Sender delivers a request to the background context. channel.Port and
// client.Client implement it.
type Sender interface {
	Send(ctx context.Context, req shopagent.Request) (shopagent.Response, error)
}

// Controller owns the open state of the panel and renders the view derived
// from the session record. It never assumes a state the record does not
// show.
type Controller struct {
	sender Sender
	reader session.Reader

	mu          sync.Mutex
	state       shopagent.SessionState
	sub         View
	open        bool
	busy        bool
	errText     string
	notice      string
	insight     string
	unsubscribe func()

	renderMu sync.Mutex
	render   func(Snapshot)

	logger         shopagent.Logger
	loggerProvider shopagent.LoggerProvider
}

// Option customizes the controller.
type Option func(*Controller)

// OnViewChange installs the renderer, called with a fresh snapshot after
// every change.
func OnViewChange(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.render = fn
	}
}

// WithLogger overrides the controller logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(c *Controller) {
		c.loggerProvider, c.logger = shopagent.ResolveLogger("shopagent.panel", c.loggerProvider, logger)
	}
}

// WithLoggerProvider resolves the controller logger from provider.
func WithLoggerProvider(provider shopagent.LoggerProvider) Option {
	return func(c *Controller) {
		c.loggerProvider, c.logger = shopagent.ResolveLogger("shopagent.panel", provider, c.logger)
	}
}

// New creates a controller sending through sender and observing reader.
func New(sender Sender, reader session.Reader, opts ...Option) *Controller {
	loggerProvider, logger := shopagent.ResolveLogger("shopagent.panel", nil, nil)
	c := &Controller{
		sender:         sender,
		reader:         reader,
		state:          shopagent.DefaultSessionState(),
		sub:            ViewLogin,
		logger:         logger,
		loggerProvider: loggerProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Mount subscribes and then reads the record. Changes committed while the
// read is in flight arrive through the subscription; the read never
// replaces a newer record.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	unsubscribe := c.reader.Subscribe(func(change session.Change) {
		c.apply(change.Current, false)
	})

	state, err := c.reader.Read(ctx)
	if err != nil {
		c.logger.Error("panel initial state failed", "error", err)
		c.mu.Lock()
		if c.state.Version == 0 {
			c.state = shopagent.LoggedOutState()
			c.errText = MessageInitialStateFailure
		}
		c.mu.Unlock()
	} else {
		c.apply(state, true)
	}

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.notify()
	return err
}

// Unmount stops observing the record.
func (c *Controller) Unmount() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// View returns the current view.
func (c *Controller) View() View {
	return c.Snapshot().View
}

// Toggle flips the open state and reports the new value.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	c.open = !c.open
	open := c.open
	c.mu.Unlock()
	c.notify()
	return open
}

// Open shows the panel.
func (c *Controller) Open() {
	c.setOpen(true)
}

// Close hides the panel.
func (c *Controller) Close() {
	c.setOpen(false)
}

// NavigateToSignup switches the logged out sub view to the signup form.
func (c *Controller) NavigateToSignup() {
	c.navigate(ViewSignup)
}

// NavigateToLogin switches the logged out sub view to the login form.
func (c *Controller) NavigateToLogin() {
	c.navigate(ViewLogin)
}

// SignInWithProvider starts the interactive federated sign-in.
func (c *Controller) SignInWithProvider(ctx context.Context) (shopagent.Response, error) {
	return c.run(ctx, shopagent.Request{Action: shopagent.ActionSignInWithProvider}, nil)
}

// Login signs in with email and password.
func (c *Controller) Login(ctx context.Context, email, password string) (shopagent.Response, error) {
	return c.run(ctx, shopagent.Request{
		Action:   shopagent.ActionLoginWithEmail,
		Email:    email,
		Password: password,
	}, nil)
}

// Signup creates an account. On success the logged out sub view returns
// to the login form with a notice.
func (c *Controller) Signup(ctx context.Context, email, password, nickname string) (shopagent.Response, error) {
	return c.run(ctx, shopagent.Request{
		Action:   shopagent.ActionSignupWithEmail,
		Email:    email,
		Password: password,
		Nickname: nickname,
	}, func(shopagent.Response) {
		c.sub = ViewLogin
		c.notice = NoticeSignedUp
	})
}

// Logout signs out.
func (c *Controller) Logout(ctx context.Context) (shopagent.Response, error) {
	return c.run(ctx, shopagent.Request{Action: shopagent.ActionLogout}, func(shopagent.Response) {
		c.insight = ""
	})
}

// ResendVerification asks for a new verification email.
func (c *Controller) ResendVerification(ctx context.Context) (shopagent.Response, error) {
	return c.run(ctx, shopagent.Request{Action: shopagent.ActionResendVerificationEmail}, func(shopagent.Response) {
		c.notice = NoticeVerificationResent
	})
}

// FetchInsights loads the insight text for url.
func (c *Controller) FetchInsights(ctx context.Context, url string) (shopagent.Response, error) {
	return c.run(ctx, shopagent.Request{Action: shopagent.ActionFetchProductInsights, URL: url}, func(resp shopagent.Response) {
		c.insight = resp.Insight
	})
}

// run sends req with the controls marked busy. Errors become inline text,
// cancellation clears it.
func (c *Controller) run(ctx context.Context, req shopagent.Request, onSuccess func(shopagent.Response)) (shopagent.Response, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return shopagent.Response{}, shopagent.ValidationError(MessageBusy, map[string]any{"action": string(req.Action)})
	}
	c.busy = true
	c.errText = ""
	c.notice = ""
	c.mu.Unlock()
	c.notify()

	resp, err := c.sender.Send(ctx, req)
	if err == nil {
		err = resp.Err()
	}

	c.mu.Lock()
	c.busy = false
	switch kind := shopagent.KindOf(err); {
	case err == nil:
		if onSuccess != nil {
			onSuccess(resp)
		}
	case kind == shopagent.KindUserCancelled:
		c.logger.Info("panel action cancelled", "action", string(req.Action))
	default:
		c.errText = inlineError(resp, err)
		c.logger.Warn("panel action failed", "action", string(req.Action), "kind", string(kind), "error", err)
	}
	c.mu.Unlock()
	c.notify()

	return resp, err
}

// apply adopts state unless it is older than the one shown. A version zero
// notification is a reset and always applies; an initial read never
// replaces a newer record. Re-entering the logged out state resets the sub
// view to the login form.
func (c *Controller) apply(state shopagent.SessionState, initial bool) {
	c.mu.Lock()
	if state.Version < c.state.Version && (initial || state.Version != 0) {
		c.mu.Unlock()
		return
	}
	if state.Status == shopagent.StatusLoggedOut && c.state.Status != shopagent.StatusLoggedOut {
		c.sub = ViewLogin
		c.insight = ""
	}
	c.state = state
	c.mu.Unlock()

	if !initial {
		c.notify()
	}
}

func (c *Controller) navigate(sub View) {
	c.mu.Lock()
	c.sub = sub
	c.errText = ""
	c.notice = ""
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setOpen(open bool) {
	c.mu.Lock()
	changed := c.open != open
	c.open = open
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		View:    ViewFor(c.state, c.sub),
		Open:    c.open,
		Busy:    c.busy,
		Error:   c.errText,
		Notice:  c.notice,
		Insight: c.insight,
		State:   c.state.Clone(),
	}
}

// notify hands the renderer a snapshot. Renders are serialised.
func (c *Controller) notify() {
	if c.render == nil {
		return
	}
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.render(c.Snapshot())
}

func inlineError(resp shopagent.Response, err error) string {
	if resp.Error != "" {
		return resp.Error
	}
	return shopagent.UserMessage(err)
}
