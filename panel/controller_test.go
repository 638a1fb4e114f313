package panel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/channel"
	"github.com/goliatone/go-shopagent/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type senderFunc func(ctx context.Context, req shopagent.Request) (shopagent.Response, error)

func (f senderFunc) Send(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
	return f(ctx, req)
}

func respondWith(resp shopagent.Response, err error) senderFunc {
	return func(context.Context, shopagent.Request) (shopagent.Response, error) {
		return resp, err
	}
}

type failingReader struct{}

func (failingReader) Read(context.Context) (shopagent.SessionState, error) {
	return shopagent.SessionState{}, errors.New("storage unavailable")
}

func (failingReader) Subscribe(session.Listener) func() {
	return func() {}
}

// racingReader commits a newer record after loading the one it returns.
type racingReader struct {
	session.Reader
	commit func()
}

func (r racingReader) Read(ctx context.Context) (shopagent.SessionState, error) {
	state, err := r.Reader.Read(ctx)
	r.commit()
	return state, err
}

var (
	verified   = &shopagent.Identity{UserID: "u1", Email: "a@b.co", EmailVerified: true}
	unverified = &shopagent.Identity{UserID: "u1", Email: "a@b.co"}
)

func write(t *testing.T, store *session.Store, identity *shopagent.Identity) {
	t.Helper()
	_, err := store.Write(context.Background(), shopagent.FullPatch(shopagent.StateFromIdentity(identity)))
	require.NoError(t, err)
}

func mounted(t *testing.T, sender Sender, opts ...Option) (*Controller, *session.Store) {
	t.Helper()
	store := session.NewStore(nil)
	c := New(sender, store.Reader(), opts...)
	require.NoError(t, c.Mount(context.Background()))
	t.Cleanup(c.Unmount)
	return c, store
}

func TestViewFor(t *testing.T) {
	tests := []struct {
		name  string
		state shopagent.SessionState
		sub   View
		want  View
	}{
		{name: "unknown", state: shopagent.DefaultSessionState(), sub: ViewSignup, want: ViewLoading},
		{name: "logged out defaults to login", state: shopagent.LoggedOutState(), want: ViewLogin},
		{name: "logged out signup", state: shopagent.LoggedOutState(), sub: ViewSignup, want: ViewSignup},
		{name: "unverified", state: shopagent.StateFromIdentity(unverified), sub: ViewSignup, want: ViewPendingVerification},
		{name: "verified", state: shopagent.StateFromIdentity(verified), want: ViewActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ViewFor(tt.state, tt.sub))
		})
	}
}

func TestMountFollowsTheRecord(t *testing.T) {
	c, store := mounted(t, respondWith(shopagent.Success("", ""), nil))
	assert.Equal(t, ViewLoading, c.View())

	write(t, store, unverified)
	assert.Equal(t, ViewPendingVerification, c.View())

	write(t, store, verified)
	assert.Equal(t, ViewActive, c.View())

	write(t, store, nil)
	assert.Equal(t, ViewLogin, c.View())

	c.Unmount()
	write(t, store, verified)
	assert.Equal(t, ViewLogin, c.View())
}

func TestMountReadsExistingRecord(t *testing.T) {
	store := session.NewStore(nil)
	write(t, store, verified)

	c := New(respondWith(shopagent.Success("", ""), nil), store.Reader())
	require.NoError(t, c.Mount(context.Background()))
	defer c.Unmount()

	assert.Equal(t, ViewActive, c.View())
	assert.Equal(t, 1, store.Listeners())
}

func TestMountKeepsChangeCommittedDuringRead(t *testing.T) {
	store := session.NewStore(nil)
	write(t, store, nil)

	reader := racingReader{Reader: store.Reader(), commit: func() { write(t, store, verified) }}
	c := New(respondWith(shopagent.Success("", ""), nil), reader)
	require.NoError(t, c.Mount(context.Background()))
	defer c.Unmount()

	current, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), current.Version)
	assert.Equal(t, ViewActive, c.View())
	assert.Equal(t, current.Version, c.Snapshot().State.Version)
}

func TestMountFailureShowsLogin(t *testing.T) {
	c := New(respondWith(shopagent.Success("", ""), nil), failingReader{})
	require.Error(t, c.Mount(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, ViewLogin, snap.View)
	assert.Equal(t, MessageInitialStateFailure, snap.Error)
}

func TestLoggedOutReentryResetsToLogin(t *testing.T) {
	c, store := mounted(t, respondWith(shopagent.Success("", ""), nil))
	write(t, store, nil)

	c.NavigateToSignup()
	assert.Equal(t, ViewSignup, c.View())

	write(t, store, unverified)
	assert.Equal(t, ViewPendingVerification, c.View())

	write(t, store, nil)
	assert.Equal(t, ViewLogin, c.View())
}

func TestSignupLandsOnLogin(t *testing.T) {
	c, store := mounted(t, respondWith(shopagent.Success("u1", shopagent.MessageSignupSucceeded), nil))
	write(t, store, nil)
	c.NavigateToSignup()

	_, err := c.Signup(context.Background(), "a@b.co", "secret1", "Al")
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, ViewLogin, snap.View)
	assert.Equal(t, NoticeSignedUp, snap.Notice)
	assert.False(t, snap.Busy)
}

func TestActionOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		sender    senderFunc
		wantKind  shopagent.ErrorKind
		wantError string
	}{
		{
			name:      "provider error is inline",
			sender:    respondWith(shopagent.ErrorResponse(shopagent.NewError(shopagent.KindInvalidCredentials, shopagent.MessageWrongPassword, nil, nil)), nil),
			wantKind:  shopagent.KindInvalidCredentials,
			wantError: shopagent.MessageWrongPassword,
		},
		{
			name:     "cancellation is neutral",
			sender:   respondWith(shopagent.ErrorResponse(shopagent.NewError(shopagent.KindUserCancelled, "", nil, nil)), nil),
			wantKind: shopagent.KindUserCancelled,
		},
		{
			name:      "channel failure",
			sender:    respondWith(shopagent.Response{}, channel.ChannelError(errors.New("port closed"))),
			wantKind:  shopagent.KindChannel,
			wantError: shopagent.MessageChannel,
		},
		{
			name:     "success",
			sender:   respondWith(shopagent.Success("u1", ""), nil),
			wantKind: shopagent.KindNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := mounted(t, tt.sender)
			write(t, store, nil)

			_, err := c.Login(context.Background(), "a@b.co", "secret1")
			assert.Equal(t, tt.wantKind, shopagent.KindOf(err))

			snap := c.Snapshot()
			assert.Equal(t, tt.wantError, snap.Error)
			assert.False(t, snap.Busy)
		})
	}
}

func TestBusyRejectsOverlappingActions(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c, _ := mounted(t, senderFunc(func(ctx context.Context, req shopagent.Request) (shopagent.Response, error) {
		close(started)
		<-release
		return shopagent.Success("", ""), nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.SignInWithProvider(context.Background())
	}()

	<-started
	assert.True(t, c.Snapshot().Busy)

	_, err := c.Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, shopagent.KindValidation, shopagent.KindOf(err))

	close(release)
	wg.Wait()
	assert.False(t, c.Snapshot().Busy)
}

func TestFetchInsights(t *testing.T) {
	var got shopagent.Request
	c, store := mounted(t, senderFunc(func(_ context.Context, req shopagent.Request) (shopagent.Response, error) {
		got = req
		return shopagent.Response{Status: shopagent.StatusSuccess, Insight: "looks good"}, nil
	}))
	write(t, store, verified)

	_, err := c.FetchInsights(context.Background(), "https://shop.example/p/1")
	require.NoError(t, err)
	assert.Equal(t, shopagent.ActionFetchProductInsights, got.Action)
	assert.Equal(t, "https://shop.example/p/1", got.URL)
	assert.Equal(t, "looks good", c.Snapshot().Insight)

	write(t, store, nil)
	assert.Empty(t, c.Snapshot().Insight)
}

func TestOpenClose(t *testing.T) {
	var renders []Snapshot
	c, _ := mounted(t, respondWith(shopagent.Success("", ""), nil), OnViewChange(func(s Snapshot) {
		renders = append(renders, s)
	}))
	mountRenders := len(renders)

	assert.True(t, c.Toggle())
	assert.False(t, c.Toggle())
	c.Open()
	c.Open()
	c.Close()

	require.Len(t, renders, mountRenders+4)
	assert.True(t, renders[mountRenders].Open)
	assert.False(t, renders[len(renders)-1].Open)
}

func TestSnapshotEncodesViewByName(t *testing.T) {
	raw, err := json.Marshal(Snapshot{View: ViewPendingVerification, Open: true})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "pending_verification", decoded["view"])
	assert.Equal(t, true, decoded["open"])
	assert.NotContains(t, decoded, "error")
}
