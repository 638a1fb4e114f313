package local

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

var testSigningKey = []byte("test-signing-key")

func newTestAccounts(t *testing.T) Accounts {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	accounts := NewAccountsRepository(bunDB)
	require.NoError(t, accounts.Migrate(context.Background()))
	return accounts
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []VerificationEmail
	err  error
}

func (m *recordingMailer) SendVerification(_ context.Context, email VerificationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) last() VerificationEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	provider *Provider
	accounts Accounts
	mailer   *recordingMailer
	cache    *MemoryCache
	clock    *fakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		accounts: newTestAccounts(t),
		mailer:   &recordingMailer{},
		cache:    &MemoryCache{},
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	base := []Option{
		WithHashCost(bcrypt.MinCost),
		WithMailer(f.mailer),
		WithSessionCache(f.cache),
		WithClock(f.clock.Now),
		WithVerificationBaseURL("http://127.0.0.1:8572/verify"),
	}
	f.provider = NewProvider(f.accounts, testSigningKey, append(base, opts...)...)
	return f
}

func providerCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var perr *gateway.ProviderError
	require.True(t, errors.As(err, &perr), "expected provider error, got %T", err)
	return perr.Code
}

func TestProviderCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	identity, err := f.provider.CreateUser(ctx, " New@Example.com ", "secret1")
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "new@example.com", identity.Email)
	assert.False(t, identity.EmailVerified)

	current, err := f.provider.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, identity, current)

	cached, err := f.cache.Load()
	require.NoError(t, err)
	assert.Equal(t, identity.UserID, cached)

	methods, err := f.provider.FetchSignInMethods(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{gateway.MethodPassword}, methods)
}

func TestProviderCreateUserFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.provider.CreateUser(ctx, "taken@example.com", "secret1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		code     string
	}{
		{name: "invalid email", email: "not-an-email", password: "secret1", code: gateway.CodeInvalidEmail},
		{name: "weak password", email: "weak@example.com", password: "123", code: gateway.CodeWeakPassword},
		{name: "email in use", email: "TAKEN@example.com", password: "secret1", code: gateway.CodeEmailAlreadyInUse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.provider.CreateUser(ctx, tt.email, tt.password)
			assert.Equal(t, tt.code, providerCode(t, err))
		})
	}

	t.Run("email in use carries the email", func(t *testing.T) {
		_, err := f.provider.CreateUser(ctx, "taken@example.com", "secret1")
		var perr *gateway.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "taken@example.com", perr.Email)
	})
}

func TestProviderSignInWithPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.provider.CreateUser(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, f.provider.SignOut(ctx))

	t.Run("success", func(t *testing.T) {
		identity, err := f.provider.SignInWithPassword(ctx, "user@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, created.UserID, identity.UserID)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.provider.SignInWithPassword(ctx, "nobody@example.com", "secret1")
		assert.Equal(t, gateway.CodeUserNotFound, providerCode(t, err))
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := f.provider.SignInWithPassword(ctx, "nobody", "secret1")
		assert.Equal(t, gateway.CodeInvalidEmail, providerCode(t, err))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.provider.SignInWithPassword(ctx, "user@example.com", "wrong")
		assert.Equal(t, gateway.CodeWrongPassword, providerCode(t, err))
	})
}

func TestProviderLoginRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithLoginLimit(3, 15*time.Minute))

	_, err := f.provider.CreateUser(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.provider.SignInWithPassword(ctx, "user@example.com", "wrong")
		assert.Equal(t, gateway.CodeWrongPassword, providerCode(t, err))
	}

	_, err = f.provider.SignInWithPassword(ctx, "user@example.com", "secret1")
	assert.Equal(t, gateway.CodeTooManyRequests, providerCode(t, err))

	f.clock.Advance(16 * time.Minute)

	identity, err := f.provider.SignInWithPassword(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, identity.UserID)

	account, err := f.accounts.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, account.LoginAttempts)
}

func TestProviderVerificationFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.provider.CreateUser(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.provider.SendEmailVerification(ctx))
	email := f.mailer.last()
	assert.Equal(t, "user@example.com", email.To)
	assert.Contains(t, email.Link, "http://127.0.0.1:8572/verify?token=")

	t.Run("resend inside cooldown", func(t *testing.T) {
		err := f.provider.SendEmailVerification(ctx)
		assert.Equal(t, gateway.CodeTooManyRequests, providerCode(t, err))
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := f.provider.VerifyEmail(ctx, "garbage")
		assert.Equal(t, gateway.CodeInvalidVerificationToken, providerCode(t, err))
	})

	var seen []*shopagent.Identity
	unsubscribe := f.provider.OnAuthStateChanged(func(identity *shopagent.Identity) {
		seen = append(seen, identity)
	})
	defer unsubscribe()
	seen = nil

	verified, err := f.provider.VerifyEmail(ctx, email.Token)
	require.NoError(t, err)
	assert.Equal(t, created.UserID, verified.UserID)
	assert.True(t, verified.EmailVerified)

	require.Len(t, seen, 1)
	assert.True(t, seen[0].EmailVerified)

	f.clock.Advance(2 * time.Minute)
	err = f.provider.SendEmailVerification(ctx)
	assert.Equal(t, gateway.CodeAlreadyVerified, providerCode(t, err))
}

func TestProviderVerificationRequiresUser(t *testing.T) {
	f := newFixture(t)

	err := f.provider.SendEmailVerification(context.Background())
	assert.Equal(t, gateway.CodeNoCurrentUser, providerCode(t, err))

	err = f.provider.UpdateProfile(context.Background(), "Ann")
	assert.Equal(t, gateway.CodeNoCurrentUser, providerCode(t, err))
}

func TestProviderMailerFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")

	_, err := f.provider.CreateUser(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	err = f.provider.SendEmailVerification(ctx)
	assert.Equal(t, gateway.CodeNetworkRequestFailed, providerCode(t, err))
}

func TestProviderUpdateProfileNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.provider.CreateUser(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	var names []string
	unsubscribe := f.provider.OnAuthStateChanged(func(identity *shopagent.Identity) {
		if identity != nil {
			names = append(names, identity.DisplayName)
		}
	})
	defer unsubscribe()

	require.NoError(t, f.provider.UpdateProfile(ctx, "  Ann "))
	assert.Equal(t, []string{"", "Ann"}, names)

	account, err := f.accounts.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ann", account.DisplayName)
}

func TestProviderSignOutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.provider.CreateUser(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	calls := 0
	var last *shopagent.Identity
	unsubscribe := f.provider.OnAuthStateChanged(func(identity *shopagent.Identity) {
		calls++
		last = identity
	})
	defer unsubscribe()
	require.Equal(t, 1, calls)

	require.NoError(t, f.provider.SignOut(ctx))
	require.NoError(t, f.provider.SignOut(ctx))

	assert.Equal(t, 2, calls)
	assert.Nil(t, last)

	_, err = f.cache.Load()
	assert.ErrorIs(t, err, ErrNoCachedSession)
}

func TestProviderRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.provider.CreateUser(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	restarted := NewProvider(f.accounts, testSigningKey, WithSessionCache(f.cache), WithHashCost(bcrypt.MinCost))

	var states []*shopagent.Identity
	unsubscribe := restarted.OnAuthStateChanged(func(identity *shopagent.Identity) {
		states = append(states, identity)
	})
	defer unsubscribe()
	assert.Empty(t, states, "listeners wait for the initial state")

	identity, err := restarted.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, created.UserID, identity.UserID)
	require.Len(t, states, 1)
	assert.Equal(t, created.UserID, states[0].UserID)

	t.Run("nothing cached resolves signed out", func(t *testing.T) {
		empty := NewProvider(f.accounts, testSigningKey)
		var got []*shopagent.Identity
		stop := empty.OnAuthStateChanged(func(identity *shopagent.Identity) {
			got = append(got, identity)
		})
		defer stop()

		identity, err := empty.Restore(ctx)
		require.NoError(t, err)
		assert.Nil(t, identity)
		require.Len(t, got, 1)
		assert.Nil(t, got[0])
	})
}

func TestProviderSignInWithCredential(t *testing.T) {
	ctx := context.Background()

	verifier := gateway.CredentialVerifierFunc(func(_ context.Context, credential gateway.Credential) (gateway.FederatedIdentity, error) {
		switch credential.IDToken {
		case "ann":
			return gateway.FederatedIdentity{
				ProviderID:    gateway.MethodGoogle,
				Subject:       "sub-ann",
				Email:         "ann@example.com",
				EmailVerified: true,
				Name:          "Ann",
			}, nil
		case "pw-user":
			return gateway.FederatedIdentity{
				ProviderID: gateway.MethodGoogle,
				Subject:    "sub-pw",
				Email:      "pw@example.com",
			}, nil
		}
		return gateway.FederatedIdentity{}, errors.New("bad token")
	})

	f := newFixture(t, WithCredentialVerifier(verifier))

	t.Run("creates federated account", func(t *testing.T) {
		identity, err := f.provider.SignInWithCredential(ctx, gateway.Credential{ProviderID: gateway.MethodGoogle, IDToken: "ann"})
		require.NoError(t, err)
		assert.Equal(t, "Ann", identity.DisplayName)
		assert.True(t, identity.EmailVerified)

		again, err := f.provider.SignInWithCredential(ctx, gateway.Credential{IDToken: "ann"})
		require.NoError(t, err)
		assert.Equal(t, identity.UserID, again.UserID)

		methods, err := f.provider.FetchSignInMethods(ctx, "ann@example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{gateway.MethodGoogle}, methods)
	})

	t.Run("password account collision", func(t *testing.T) {
		_, err := f.provider.CreateUser(ctx, "pw@example.com", "secret1")
		require.NoError(t, err)

		_, err = f.provider.SignInWithCredential(ctx, gateway.Credential{IDToken: "pw-user"})
		assert.Equal(t, gateway.CodeAccountExistsWithCredential, providerCode(t, err))
	})

	t.Run("rejected token", func(t *testing.T) {
		_, err := f.provider.SignInWithCredential(ctx, gateway.Credential{IDToken: "nope"})
		assert.Equal(t, gateway.CodeIDTokenRejected, providerCode(t, err))
	})

	t.Run("password sign-in on federated account", func(t *testing.T) {
		_, err := f.provider.SignInWithPassword(ctx, "ann@example.com", "secret1")
		assert.Equal(t, gateway.CodeWrongPassword, providerCode(t, err))
	})
}

func TestProviderWithoutVerifier(t *testing.T) {
	f := newFixture(t)
	_, err := f.provider.SignInWithCredential(context.Background(), gateway.Credential{IDToken: "x"})
	assert.Equal(t, gateway.CodeOperationNotAllowed, providerCode(t, err))
}

func TestProviderThroughGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := gateway.New(f.provider)

	result, err := g.SignUp(ctx, "user@example.com", "secret1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, shopagent.MessageSignupSucceeded, result.Message)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "Ann", result.Identity.DisplayName)

	_, err = g.SignUp(ctx, "user@example.com", "secret1", "")
	require.Error(t, err)
	assert.Equal(t, shopagent.KindAccountExists, shopagent.KindOf(err))
	assert.Equal(t, shopagent.MessageAccountHasPassword, shopagent.UserMessage(err))

	_, err = g.SignInWithPassword(ctx, "user@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, shopagent.MessageWrongPassword, shopagent.UserMessage(err))
}
