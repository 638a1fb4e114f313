// Package local is a self hosted identity provider backed by Bun. It keeps
// password and federated accounts, mails verification links and tracks a
// single signed in account the way a browser SDK does.
package local

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-repository-bun"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ProviderName identifies this provider in errors and logs.
const ProviderName = "local"

const (
	DefaultMaxLoginAttempts = 5
	DefaultAttemptWindow    = 15 * time.Minute
	DefaultResendCooldown   = 60 * time.Second
)

// Provider implements gateway.IdentityProvider.
type Provider struct {
	accounts            Accounts
	tokens              *VerificationTokens
	mailer              Mailer
	cache               SessionCache
	verifier            gateway.CredentialVerifier
	hashCost            int
	minPasswordLength   int
	maxAttempts         int
	attemptWindow       time.Duration
	resendCooldown      time.Duration
	verificationBaseURL string
	now                 func() time.Time

	mu        sync.Mutex
	current   *Account
	resolved  bool
	next      int
	listeners map[int]gateway.AuthStateListener

	logger         shopagent.Logger
	loggerProvider shopagent.LoggerProvider
}

var _ gateway.IdentityProvider = (*Provider)(nil)

// Option customizes provider construction.
type Option func(*Provider)

// WithMailer sets the verification mailer.
func WithMailer(mailer Mailer) Option {
	return func(p *Provider) {
		if mailer != nil {
			p.mailer = mailer
		}
	}
}

// WithSessionCache sets where the signed in account id is persisted.
func WithSessionCache(cache SessionCache) Option {
	return func(p *Provider) {
		if cache != nil {
			p.cache = cache
		}
	}
}

// WithCredentialVerifier enables federated sign-in.
func WithCredentialVerifier(verifier gateway.CredentialVerifier) Option {
	return func(p *Provider) {
		p.verifier = verifier
	}
}

// WithHashCost sets the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(p *Provider) {
		p.hashCost = cost
	}
}

// WithMinPasswordLength sets the weak password threshold.
func WithMinPasswordLength(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.minPasswordLength = n
		}
	}
}

// WithLoginLimit sets how many failed attempts are allowed per window.
func WithLoginLimit(attempts int, window time.Duration) Option {
	return func(p *Provider) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if window > 0 {
			p.attemptWindow = window
		}
	}
}

// WithResendCooldown sets the minimum delay between verification emails.
func WithResendCooldown(d time.Duration) Option {
	return func(p *Provider) {
		if d >= 0 {
			p.resendCooldown = d
		}
	}
}

// WithVerificationBaseURL sets the link the token is appended to.
func WithVerificationBaseURL(base string) Option {
	return func(p *Provider) {
		p.verificationBaseURL = base
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
			p.tokens.now = now
		}
	}
}

// WithLogger overrides the provider logger.
func WithLogger(logger shopagent.Logger) Option {
	return func(p *Provider) {
		p.loggerProvider, p.logger = shopagent.ResolveLogger("shopagent.provider.local", p.loggerProvider, logger)
	}
}

// WithLoggerProvider resolves the provider logger from lp.
func WithLoggerProvider(lp shopagent.LoggerProvider) Option {
	return func(p *Provider) {
		p.loggerProvider, p.logger = shopagent.ResolveLogger("shopagent.provider.local", lp, p.logger)
	}
}

// NewProvider creates a provider over accounts. signingKey signs email
// verification tokens.
func NewProvider(accounts Accounts, signingKey []byte, opts ...Option) *Provider {
	loggerProvider, logger := shopagent.ResolveLogger("shopagent.provider.local", nil, nil)
	p := &Provider{
		accounts:          accounts,
		tokens:            NewVerificationTokens(signingKey, DefaultVerificationTTL),
		cache:             &MemoryCache{},
		hashCost:          DefaultHashCost,
		minPasswordLength: shopagent.DefaultMinPasswordLength,
		maxAttempts:       DefaultMaxLoginAttempts,
		attemptWindow:     DefaultAttemptWindow,
		resendCooldown:    DefaultResendCooldown,
		now:               time.Now,
		listeners:         map[int]gateway.AuthStateListener{},
		logger:            logger,
		loggerProvider:    loggerProvider,
	}
	p.mailer = LogMailer{Logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*shopagent.Identity, error) {
	const op = "signInWithPassword"

	if err := validateEmail(email); err != nil {
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeInvalidEmail, "").WithEmail(email)
	}

	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeUserNotFound, "").WithEmail(email)
		}
		return nil, internalError(op, err)
	}

	now := p.now()
	if p.isLocked(account, now) {
		p.logger.Warn("login rate limited", "account", account.ID, "attempts", account.LoginAttempts)
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeTooManyRequests, "").WithEmail(email)
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if p.attemptExpired(account, now) {
			account.LoginAttempts = 0
		}
		if terr := p.accounts.TrackAttemptedLogin(ctx, account, now); terr != nil {
			p.logger.Error("track attempted login failed", "account", account.ID, "error", terr)
		}
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeWrongPassword, "").WithEmail(email).WithCause(err)
	}

	if err := p.accounts.TrackSuccessfulLogin(ctx, account, now); err != nil {
		return nil, internalError(op, err)
	}

	return p.signIn(account), nil
}

func (p *Provider) SignInWithCredential(ctx context.Context, credential gateway.Credential) (*shopagent.Identity, error) {
	const op = "signInWithCredential"

	if p.verifier == nil {
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeOperationNotAllowed, "federated sign-in is not enabled")
	}

	federated, err := p.verifier.Verify(ctx, credential)
	if err != nil {
		if _, ok := lo.ErrorsAs[*gateway.ProviderError](err); ok {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeIDTokenRejected, "").WithCause(err)
	}

	method := federated.ProviderID
	if method == "" {
		method = credential.ProviderID
	}
	if method == "" {
		method = gateway.MethodGoogle
	}

	account, err := p.accounts.GetByEmail(ctx, federated.Email)
	switch {
	case err == nil:
		if !account.HasMethod(method) {
			return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeAccountExistsWithCredential, "").WithEmail(account.Email)
		}
		if account.FederatedSubject != "" && account.FederatedSubject != federated.Subject {
			return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeInvalidCredential, "subject mismatch").WithEmail(account.Email)
		}
		changed := false
		if account.DisplayName == "" && federated.Name != "" {
			account.DisplayName, changed = federated.Name, true
		}
		if federated.Picture != "" && account.PhotoURL != federated.Picture {
			account.PhotoURL, changed = federated.Picture, true
		}
		if federated.EmailVerified && !account.EmailVerified {
			account.EmailVerified, changed = true, true
		}
		if changed {
			if err := p.accounts.Save(ctx, account); err != nil {
				return nil, internalError(op, err)
			}
		}
	case repository.IsRecordNotFound(err):
		account = &Account{
			Email:            federated.Email,
			DisplayName:      federated.Name,
			PhotoURL:         federated.Picture,
			EmailVerified:    federated.EmailVerified,
			FederatedSubject: federated.Subject,
		}
		account.AddMethod(method)
		if account, err = p.accounts.Create(ctx, account); err != nil {
			return nil, internalError(op, err)
		}
		p.logger.Info("federated account created", "account", account.ID, "provider", method)
	default:
		return nil, internalError(op, err)
	}

	if err := p.accounts.TrackSuccessfulLogin(ctx, account, p.now()); err != nil {
		return nil, internalError(op, err)
	}

	return p.signIn(account), nil
}

func (p *Provider) CreateUser(ctx context.Context, email, password string) (*shopagent.Identity, error) {
	const op = "createUser"

	if err := validateEmail(email); err != nil {
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeInvalidEmail, "").WithEmail(email)
	}
	if len(password) < p.minPasswordLength {
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeWeakPassword, "").WithEmail(email)
	}

	if _, err := p.accounts.GetByEmail(ctx, email); err == nil {
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeEmailAlreadyInUse, "").WithEmail(email)
	} else if !repository.IsRecordNotFound(err) {
		return nil, internalError(op, err)
	}

	hash, err := HashPassword(password, p.hashCost)
	if err != nil {
		return nil, internalError(op, err)
	}

	account := &Account{
		Email:        email,
		PasswordHash: hash,
	}
	account.AddMethod(gateway.MethodPassword)

	account, err = p.accounts.Create(ctx, account)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeEmailAlreadyInUse, "").WithEmail(email)
		}
		return nil, internalError(op, err)
	}

	p.logger.Info("account created", "account", account.ID)
	return p.signIn(account), nil
}

// UpdateProfile sets the display name of the signed in account and
// notifies auth state listeners.
func (p *Provider) UpdateProfile(ctx context.Context, displayName string) error {
	const op = "updateProfile"

	account := p.currentAccount()
	if account == nil {
		return gateway.NewProviderError(ProviderName, op, gateway.CodeNoCurrentUser, "")
	}

	account.DisplayName = strings.TrimSpace(displayName)
	if err := p.accounts.Save(ctx, account); err != nil {
		return internalError(op, err)
	}

	p.replaceCurrent(account)
	return nil
}

// SendEmailVerification mails a verification link to the signed in account.
func (p *Provider) SendEmailVerification(ctx context.Context) error {
	const op = "sendEmailVerification"

	account := p.currentAccount()
	if account == nil {
		return gateway.NewProviderError(ProviderName, op, gateway.CodeNoCurrentUser, "")
	}
	if account.EmailVerified {
		return gateway.NewProviderError(ProviderName, op, gateway.CodeAlreadyVerified, "").WithEmail(account.Email)
	}

	now := p.now()
	if sent := account.VerificationSentAt; sent != nil && now.Sub(*sent) < p.resendCooldown {
		return gateway.NewProviderError(ProviderName, op, gateway.CodeTooManyRequests, "").WithEmail(account.Email)
	}

	token, _, err := p.tokens.Mint(account.ID.String(), account.Email)
	if err != nil {
		return internalError(op, err)
	}

	err = p.mailer.SendVerification(ctx, VerificationEmail{
		To:          account.Email,
		DisplayName: account.DisplayName,
		Link:        p.verificationLink(token),
		Token:       token,
	})
	if err != nil {
		return gateway.NewProviderError(ProviderName, op, gateway.CodeNetworkRequestFailed, "").WithEmail(account.Email).WithCause(err)
	}

	account.VerificationSentAt = &now
	if err := p.accounts.Save(ctx, account); err != nil {
		return internalError(op, err)
	}
	p.replaceCurrent(account, false)
	return nil
}

// VerifyEmail marks the account named by token as verified. Listeners are
// notified when it is the signed in account.
func (p *Provider) VerifyEmail(ctx context.Context, token string) (*shopagent.Identity, error) {
	const op = "verifyEmail"

	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeInvalidVerificationToken, "").WithCause(err)
	}

	account, err := p.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeUserNotFound, "")
		}
		return nil, internalError(op, err)
	}
	if !strings.EqualFold(account.Email, claims.Email) {
		return nil, gateway.NewProviderError(ProviderName, op, gateway.CodeInvalidVerificationToken, "email changed")
	}

	if !account.EmailVerified {
		account.EmailVerified = true
		if err := p.accounts.Save(ctx, account); err != nil {
			return nil, internalError(op, err)
		}
		p.logger.Info("email verified", "account", account.ID)
	}

	if current := p.currentAccount(); current != nil && current.ID == account.ID {
		p.replaceCurrent(account)
	}
	return toIdentity(account), nil
}

func (p *Provider) FetchSignInMethods(ctx context.Context, email string) ([]string, error) {
	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return []string{}, nil
		}
		return nil, internalError("fetchSignInMethods", err)
	}
	return account.Methods(), nil
}

// SignOut clears the signed in account. It is a no-op when signed out.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	wasSignedIn := p.current != nil
	p.current = nil
	p.resolved = true
	p.mu.Unlock()

	if err := p.cache.Clear(); err != nil {
		p.logger.Warn("session cache clear failed", "error", err)
	}
	if wasSignedIn {
		p.emit(nil)
	}
	return nil
}

func (p *Provider) CurrentUser(ctx context.Context) (*shopagent.Identity, error) {
	return toIdentity(p.currentAccount()), nil
}

// OnAuthStateChanged registers listener. Once the initial auth state is
// resolved by Restore or a sign-in, listener is also called right away
// with the current identity.
func (p *Provider) OnAuthStateChanged(listener gateway.AuthStateListener) func() {
	if listener == nil {
		return func() {}
	}

	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = listener
	current := toIdentity(p.current)
	resolved := p.resolved
	p.mu.Unlock()

	if resolved {
		listener(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Restore signs the cached account back in. It returns nil when no
// session was cached or the account no longer exists.
func (p *Provider) Restore(ctx context.Context) (*shopagent.Identity, error) {
	id, err := p.cache.Load()
	if err != nil {
		if errors.Is(err, ErrNoCachedSession) {
			p.resolveSignedOut()
			return nil, nil
		}
		return nil, internalError("restore", err)
	}

	account, err := p.accounts.GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			_ = p.cache.Clear()
			p.resolveSignedOut()
			return nil, nil
		}
		return nil, internalError("restore", err)
	}

	p.logger.Debug("session restored", "account", account.ID)
	return p.signIn(account), nil
}

// Refresh reloads the signed in account and notifies listeners when its
// profile changed.
func (p *Provider) Refresh(ctx context.Context) (*shopagent.Identity, error) {
	current := p.currentAccount()
	if current == nil {
		return nil, nil
	}

	account, err := p.accounts.GetByID(ctx, current.ID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, p.SignOut(ctx)
		}
		return nil, internalError("refresh", err)
	}

	if *toIdentity(account) != *toIdentity(current) {
		p.replaceCurrent(account)
	} else {
		p.replaceCurrent(account, false)
	}
	return toIdentity(account), nil
}

func (p *Provider) signIn(account *Account) *shopagent.Identity {
	if err := p.cache.Store(account.ID.String()); err != nil {
		p.logger.Warn("session cache store failed", "error", err)
	}
	p.replaceCurrent(account)
	return toIdentity(account)
}

// replaceCurrent swaps the signed in account, notifying listeners unless
// notify is explicitly false.
func (p *Provider) replaceCurrent(account *Account, notify ...bool) {
	snapshot := *account
	p.mu.Lock()
	p.current = &snapshot
	p.resolved = true
	p.mu.Unlock()

	if len(notify) == 0 || notify[0] {
		p.emit(toIdentity(&snapshot))
	}
}

func (p *Provider) resolveSignedOut() {
	p.mu.Lock()
	p.current = nil
	p.resolved = true
	p.mu.Unlock()
	p.emit(nil)
}

func (p *Provider) currentAccount() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	snapshot := *p.current
	return &snapshot
}

func (p *Provider) emit(identity *shopagent.Identity) {
	p.mu.Lock()
	ids := lo.Keys(p.listeners)
	p.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		p.mu.Lock()
		listener, ok := p.listeners[id]
		p.mu.Unlock()
		if !ok {
			continue
		}
		var snapshot *shopagent.Identity
		if identity != nil {
			c := *identity
			snapshot = &c
		}
		listener(snapshot)
	}
}

func (p *Provider) isLocked(account *Account, now time.Time) bool {
	return account.LoginAttempts >= p.maxAttempts && !p.attemptExpired(account, now)
}

func (p *Provider) attemptExpired(account *Account, now time.Time) bool {
	return account.LoginAttemptAt == nil || now.Sub(*account.LoginAttemptAt) >= p.attemptWindow
}

func (p *Provider) verificationLink(token string) string {
	if p.verificationBaseURL == "" {
		return token
	}
	u, err := url.Parse(p.verificationBaseURL)
	if err != nil {
		return p.verificationBaseURL + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func toIdentity(account *Account) *shopagent.Identity {
	if account == nil || account.ID == uuid.Nil {
		return nil
	}
	return &shopagent.Identity{
		UserID:        account.ID.String(),
		Email:         account.Email,
		DisplayName:   account.DisplayName,
		PhotoURL:      account.PhotoURL,
		EmailVerified: account.EmailVerified,
	}
}

func validateEmail(email string) error {
	return validation.Validate(strings.TrimSpace(email), validation.Required, is.EmailFormat)
}

func internalError(operation string, err error) error {
	return gateway.NewProviderError(ProviderName, operation, gateway.CodeInternalError, "").WithCause(err)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
