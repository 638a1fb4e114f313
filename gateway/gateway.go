package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/samber/lo"
)

// Result is the outcome of a successful gateway operation.
type Result struct {
	Identity *shopagent.Identity
	Message  string
	Warnings []string
}

// UserID returns the identity id or an empty string.
func (r Result) UserID() string {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.UserID
}

// Gateway is the single entry point to the identity provider. No operation
// retries on its own.
type Gateway struct {
	provider           IdentityProvider
	flow               InteractiveFlow
	timeout            time.Duration
	interactiveTimeout time.Duration
	flowActive         atomic.Bool
	sink               shopagent.ActivitySink
	logger             shopagent.Logger
	loggerProvider     shopagent.LoggerProvider
}

// Option customizes gateway construction.
type Option func(*Gateway)

// WithInteractiveFlow sets the federated sign-in flow.
func WithInteractiveFlow(flow InteractiveFlow) Option {
	return func(g *Gateway) {
		g.flow = flow
	}
}

// WithTimeout bounds every non interactive provider call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithInteractiveTimeout bounds the interactive flow.
func WithInteractiveTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.interactiveTimeout = d
		}
	}
}

// WithActivitySink sets the sink for sign-in, sign-up and sign-out events.
func WithActivitySink(sink shopagent.ActivitySink) Option {
	return func(g *Gateway) {
		g.sink = shopagent.NormalizeActivitySink(sink)
	}
}

// WithLogger overrides the gateway logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(g *Gateway) {
		g.loggerProvider, g.logger = shopagent.ResolveLogger("shopagent.gateway", g.loggerProvider, logger)
	}
}

// WithLoggerProvider resolves the gateway logger from provider.
func WithLoggerProvider(provider shopagent.LoggerProvider) Option {
	return func(g *Gateway) {
		g.loggerProvider, g.logger = shopagent.ResolveLogger("shopagent.gateway", provider, g.logger)
	}
}

// New creates a gateway over provider.
func New(provider IdentityProvider, opts ...Option) *Gateway {
	loggerProvider, logger := shopagent.ResolveLogger("shopagent.gateway", nil, nil)
	g := &Gateway{
		provider:           provider,
		timeout:            shopagent.DefaultProviderTimeout,
		interactiveTimeout: shopagent.DefaultInteractiveTimeout,
		sink:               shopagent.NormalizeActivitySink(nil),
		logger:             logger,
		loggerProvider:     loggerProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Provider returns the wrapped identity provider.
func (g *Gateway) Provider() IdentityProvider {
	return g.provider
}

// SignInWithProvider runs the interactive federated flow and exchanges its
// credential with the provider. Only one flow may run at a time.
func (g *Gateway) SignInWithProvider(ctx context.Context) (Result, error) {
	if g.flow == nil {
		return Result{}, shopagent.NewError(shopagent.KindUnknown, "Federated sign-in is not configured.", nil, map[string]any{
			"operation": OpSignInWithProvider,
		})
	}

	if !g.flowActive.CompareAndSwap(false, true) {
		g.logger.Warn("interactive sign-in rejected, flow already running")
		return Result{}, shopagent.NewError(shopagent.KindFlowInProgress, "", nil, map[string]any{
			"operation": OpSignInWithProvider,
		})
	}
	defer g.flowActive.Store(false)

	var credential Credential
	err := g.run(ctx, g.interactiveTimeout, func(ctx context.Context) error {
		var err error
		credential, err = g.flow.Authenticate(ctx)
		return err
	})
	if err != nil {
		return Result{}, g.fail(ctx, OpSignInWithProvider, "", normalize(normalizeInput{
			operation:   OpSignInWithProvider,
			err:         err,
			interactive: true,
		}))
	}

	return g.exchange(ctx, OpSignInWithProvider, credential)
}

// SignInWithCredential exchanges a credential obtained outside the gateway,
// e.g. by a browser identity API, with the provider.
func (g *Gateway) SignInWithCredential(ctx context.Context, credential Credential) (Result, error) {
	if strings.TrimSpace(credential.IDToken) == "" {
		return Result{}, shopagent.ValidationError(MessageCredentialRequired, map[string]any{
			"operation": OpSignInWithCredential,
			"id_token":  "required",
		})
	}
	return g.exchange(ctx, OpSignInWithCredential, credential)
}

func (g *Gateway) exchange(ctx context.Context, operation string, credential Credential) (Result, error) {
	if credential.ProviderID == "" {
		credential.ProviderID = MethodGoogle
	}

	var identity *shopagent.Identity
	err := g.run(ctx, g.timeout, func(ctx context.Context) error {
		var err error
		identity, err = g.provider.SignInWithCredential(ctx, credential)
		return err
	})
	if err != nil {
		return Result{}, g.fail(ctx, operation, "", g.withConflict(ctx, operation, err))
	}

	g.succeed(ctx, shopagent.ActivityEventSignIn, credential.ProviderID, identity)
	return Result{Identity: identity}, nil
}

// SignInWithPassword authenticates with email and password.
func (g *Gateway) SignInWithPassword(ctx context.Context, email, password string) (Result, error) {
	email = strings.TrimSpace(email)

	var identity *shopagent.Identity
	err := g.run(ctx, g.timeout, func(ctx context.Context) error {
		var err error
		identity, err = g.provider.SignInWithPassword(ctx, email, password)
		return err
	})
	if err != nil {
		return Result{}, g.fail(ctx, OpSignInWithPassword, email, normalize(normalizeInput{
			operation: OpSignInWithPassword,
			err:       err,
		}))
	}

	g.succeed(ctx, shopagent.ActivityEventSignIn, MethodPassword, identity)
	return Result{Identity: identity}, nil
}

// SignUp creates an account, then best effort sets the display name and
// sends the verification email. Failures of the last two are warnings.
func (g *Gateway) SignUp(ctx context.Context, email, password, nickname string) (Result, error) {
	email = strings.TrimSpace(email)
	nickname = strings.TrimSpace(nickname)

	var identity *shopagent.Identity
	err := g.run(ctx, g.timeout, func(ctx context.Context) error {
		var err error
		identity, err = g.provider.CreateUser(ctx, email, password)
		return err
	})
	if err != nil {
		return Result{}, g.fail(ctx, OpSignUp, email, g.withConflict(ctx, OpSignUp, err))
	}

	result := Result{Identity: identity, Message: shopagent.MessageSignupSucceeded}

	if nickname != "" {
		err := g.run(ctx, g.timeout, func(ctx context.Context) error {
			return g.provider.UpdateProfile(ctx, nickname)
		})
		if err != nil {
			result.Warnings = append(result.Warnings, g.warn(ctx, identity, "profile name update failed", err))
		} else if identity != nil {
			identity.DisplayName = nickname
		}
	}

	err = g.run(ctx, g.timeout, func(ctx context.Context) error {
		return g.provider.SendEmailVerification(ctx)
	})
	if err != nil {
		result.Warnings = append(result.Warnings, g.warn(ctx, identity, "verification email failed", err))
	}

	g.succeed(ctx, shopagent.ActivityEventSignUp, MethodPassword, identity)
	return result, nil
}

// SignOut ends the provider session. Signing out twice is not an error.
func (g *Gateway) SignOut(ctx context.Context) (Result, error) {
	err := g.run(ctx, g.timeout, func(ctx context.Context) error {
		return g.provider.SignOut(ctx)
	})
	if err != nil {
		return Result{}, g.fail(ctx, OpSignOut, "", normalize(normalizeInput{operation: OpSignOut, err: err}))
	}

	g.logger.Info("sign out succeeded")
	shopagent.RecordActivity(ctx, g.sink, g.logger, shopagent.ActivityEvent{
		EventType: shopagent.ActivityEventSignOut,
	})
	return Result{}, nil
}

// ResendVerification re-sends the verification email for the current
// user. It fails without a signed in user or when already verified.
func (g *Gateway) ResendVerification(ctx context.Context) (Result, error) {
	var current *shopagent.Identity
	err := g.run(ctx, g.timeout, func(ctx context.Context) error {
		var err error
		current, err = g.provider.CurrentUser(ctx)
		return err
	})
	if err != nil {
		return Result{}, g.fail(ctx, OpResendVerification, "", normalize(normalizeInput{operation: OpResendVerification, err: err}))
	}

	if current == nil {
		return Result{}, g.fail(ctx, OpResendVerification, "", normalize(normalizeInput{
			operation: OpResendVerification,
			err:       NewProviderError("", OpResendVerification, CodeNoCurrentUser, "no current user"),
		}))
	}
	if current.EmailVerified {
		return Result{}, g.fail(ctx, OpResendVerification, current.Email, normalize(normalizeInput{
			operation: OpResendVerification,
			err:       NewProviderError("", OpResendVerification, CodeAlreadyVerified, "email already verified"),
		}))
	}

	err = g.run(ctx, g.timeout, func(ctx context.Context) error {
		return g.provider.SendEmailVerification(ctx)
	})
	if err != nil {
		return Result{}, g.fail(ctx, OpResendVerification, current.Email, normalize(normalizeInput{operation: OpResendVerification, err: err}))
	}

	shopagent.RecordActivity(ctx, g.sink, g.logger, shopagent.ActivityEvent{
		EventType: shopagent.ActivityEventVerificationResent,
		UserID:    current.UserID,
	})
	return Result{Identity: current, Message: shopagent.MessageVerificationResent}, nil
}

// run executes fn under a deadline. A provider that ignores ctx does not
// hold the caller past the deadline.
func (g *Gateway) run(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("identity provider panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withConflict normalizes err and, for AccountExists, asks the provider
// which method owns the email to pick the guidance message.
func (g *Gateway) withConflict(ctx context.Context, operation string, err error) error {
	normalized := normalize(normalizeInput{operation: operation, err: err})
	if shopagent.KindOf(normalized) != shopagent.KindAccountExists {
		return normalized
	}

	email := ""
	if perr, ok := lo.ErrorsAs[*ProviderError](err); ok && perr != nil {
		email = perr.Email
	}
	if email == "" {
		return normalized
	}

	var methods []string
	lookupErr := g.run(ctx, g.timeout, func(ctx context.Context) error {
		var err error
		methods, err = g.provider.FetchSignInMethods(ctx, email)
		return err
	})
	if lookupErr != nil {
		g.logger.Warn("sign in methods lookup failed", "error", lookupErr, "operation", operation)
		return normalized
	}

	conflict, message := conflictMessage(operation, methods)
	return shopagent.NewError(shopagent.KindAccountExists, message, err, map[string]any{
		"operation":       operation,
		"provider_code":   ProviderCode(err),
		"conflict_method": string(conflict),
		"methods":         methods,
	})
}

func (g *Gateway) fail(ctx context.Context, operation, email string, err error) error {
	kind := shopagent.KindOf(err)
	if kind == shopagent.KindUserCancelled {
		g.logger.Info("auth operation cancelled", "operation", operation)
	} else {
		g.logger.Error("auth operation failed",
			"error", err,
			"operation", operation,
			"kind", string(kind),
		)
	}

	meta := map[string]any{
		"operation": operation,
		"kind":      string(kind),
	}
	if email != "" {
		meta["identifier"] = email
	}
	shopagent.RecordActivity(ctx, g.sink, g.logger, shopagent.ActivityEvent{
		EventType: shopagent.ActivityEventSignInFailure,
		Metadata:  meta,
	})
	return err
}

func (g *Gateway) succeed(ctx context.Context, event shopagent.ActivityEventType, method string, identity *shopagent.Identity) {
	userID := ""
	if identity != nil {
		userID = identity.UserID
	}
	g.logger.Info("auth operation succeeded", "event", string(event), "method", method, "user_id", userID)
	shopagent.RecordActivity(ctx, g.sink, g.logger, shopagent.ActivityEvent{
		EventType: event,
		UserID:    userID,
		Method:    method,
	})
}

func (g *Gateway) warn(ctx context.Context, identity *shopagent.Identity, message string, err error) string {
	userID := ""
	if identity != nil {
		userID = identity.UserID
	}
	g.logger.Warn(message, "error", err, "user_id", userID)
	shopagent.RecordActivity(ctx, g.sink, g.logger, shopagent.ActivityEvent{
		EventType: shopagent.ActivityEventSignUpWarning,
		UserID:    userID,
		Metadata:  map[string]any{"warning": message, "error": err.Error()},
	})
	return message
}

func containsMethod(methods []string, method string) bool {
	return lo.Contains(methods, method)
}
