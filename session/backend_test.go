package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupBunBackend(t *testing.T, namespace string) *BunBackend {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	t.Cleanup(func() {
		_ = bunDB.Close()
	})

	backend := NewBunBackend(bunDB, namespace)
	require.NoError(t, backend.Migrate(context.Background()))
	return backend
}

func setupRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	backend, err := NewRedisBackend("redis://"+s.Addr(), "install-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend, s
}

func TestBackendsRoundTrip(t *testing.T) {
	redisBackend, _ := setupRedisBackend(t)

	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"bun":    setupBunBackend(t, "install-1"),
		"redis":  redisBackend,
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := backend.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			store := NewStore(backend)
			written, err := store.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", true)))
			require.NoError(t, err)

			_, err = store.Write(ctx, shopagent.SessionPatch{DisplayName: shopagent.SetTo("Annie")})
			require.NoError(t, err)

			loaded, ok, err := backend.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, written.Version+1, loaded.Version)
			assert.Equal(t, "Annie", shopagent.Deref(loaded.DisplayName))
			assert.Equal(t, "a@example.com", shopagent.Deref(loaded.Email))
			assert.True(t, loaded.IsVerified())

			_, err = store.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
			require.NoError(t, err)

			loaded, _, err = backend.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, shopagent.StatusLoggedOut, loaded.Status)
			assert.Nil(t, loaded.UserID)
		})
	}
}

func TestBunBackendNamespaces(t *testing.T) {
	ctx := context.Background()
	first := setupBunBackend(t, "first")
	second := NewBunBackend(first.db, "second")

	require.NoError(t, first.Save(ctx, loggedIn("u1", "", false)))

	_, ok, err := second.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendWatch(t *testing.T) {
	backend, _ := setupRedisBackend(t)
	ctx := context.Background()

	received := make(chan shopagent.SessionState, 4)
	stop, err := backend.Watch(ctx, func(s shopagent.SessionState) { received <- s })
	require.NoError(t, err)
	defer stop()

	store := NewStore(backend)
	_, err = store.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", false)))
	require.NoError(t, err)

	select {
	case state := <-received:
		assert.Equal(t, "u1", shopagent.Deref(state.UserID))
		assert.Equal(t, uint64(1), state.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no change published")
	}
}

func TestRedisBackendWatchSkipsMalformedPayload(t *testing.T) {
	backend, server := setupRedisBackend(t)
	ctx := context.Background()

	received := make(chan shopagent.SessionState, 4)
	stop, err := backend.Watch(ctx, func(s shopagent.SessionState) { received <- s })
	require.NoError(t, err)
	defer stop()

	server.Publish(backend.channel(), "{not json")
	require.NoError(t, backend.Save(ctx, loggedIn("u2", "", true)))

	select {
	case state := <-received:
		assert.Equal(t, "u2", shopagent.Deref(state.UserID))
	case <-time.After(2 * time.Second):
		t.Fatal("no change published")
	}
	assert.Empty(t, received)
}

func TestRedisBackendSavePersistsAndPublishes(t *testing.T) {
	backend, server := setupRedisBackend(t)
	ctx := context.Background()

	received := make(chan shopagent.SessionState, 1)
	stop, err := backend.Watch(ctx, func(s shopagent.SessionState) { received <- s })
	require.NoError(t, err)
	defer stop()

	state := loggedIn("u3", "c@example.com", false)
	state.Version = 7
	require.NoError(t, backend.Save(ctx, state))

	raw, err := server.Get(backend.key())
	require.NoError(t, err)
	assert.Contains(t, raw, `"version":7`)

	select {
	case got := <-received:
		assert.Equal(t, uint64(7), got.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no change published")
	}
}

func TestRedisBackendRejectsBadURL(t *testing.T) {
	_, err := NewRedisBackend("not a url", "x")
	require.Error(t, err)
}
