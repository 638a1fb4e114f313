package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loggedIn(id, email string, verified bool) shopagent.SessionState {
	return shopagent.StateFromIdentity(&shopagent.Identity{
		UserID:        id,
		Email:         email,
		DisplayName:   "Ann",
		EmailVerified: verified,
	})
}

func TestStoreReadDefaultsWhenEmpty(t *testing.T) {
	store := NewStore(NewMemoryBackend())

	state, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusUnknown, state.Status)
	assert.Nil(t, state.UserID)
	assert.Zero(t, state.Version)
}

func TestStoreWriteThenRead(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(NewMemoryBackend(), WithClock(func() time.Time { return fixed }))

	written, err := store.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", false)))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), written.Version)
	assert.Equal(t, fixed, written.UpdatedAt)

	read, err := store.Read(ctx)
	require.NoError(t, err)
	assert.True(t, read.Equal(written))
	assert.Equal(t, "u1", shopagent.Deref(read.UserID))
}

func TestStorePartialWriteKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	_, err := store.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", false)))
	require.NoError(t, err)

	state, err := store.Write(ctx, shopagent.SessionPatch{EmailVerified: shopagent.SetTo(true)})
	require.NoError(t, err)
	assert.True(t, state.IsVerified())
	assert.Equal(t, "a@example.com", shopagent.Deref(state.Email))
	assert.Equal(t, uint64(2), state.Version)
}

func TestStoreLoggedOutClearsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	_, err := store.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", true)))
	require.NoError(t, err)

	status := shopagent.StatusLoggedOut
	state, err := store.Write(ctx, shopagent.SessionPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusLoggedOut, state.Status)
	assert.Nil(t, state.UserID)
	assert.Nil(t, state.Email)
	assert.Nil(t, state.EmailVerified)
}

func TestStoreRejectsLoggedInWithoutUser(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	calls := 0
	store.Subscribe(func(Change) { calls++ })

	status := shopagent.StatusLoggedIn
	_, err := store.Write(ctx, shopagent.SessionPatch{Status: &status})
	require.Error(t, err)
	assert.Equal(t, shopagent.KindValidation, shopagent.KindOf(err))
	assert.Zero(t, calls)

	state, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusUnknown, state.Status)
}

func TestStoreListenersReceiveIdenticalRecords(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	var first, second []Change
	store.Subscribe(func(c Change) { first = append(first, c) })
	store.Subscribe(func(c Change) { second = append(second, c) })

	_, err := store.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", false)))
	require.NoError(t, err)
	_, err = store.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	for i := range first {
		assert.True(t, first[i].Current.Equal(second[i].Current))
		assert.Equal(t, first[i].Current.Version, second[i].Current.Version)
	}
	assert.Equal(t, shopagent.StatusUnknown, first[0].Previous.Status)
	assert.Equal(t, shopagent.StatusLoggedOut, first[1].Current.Status)
	assert.Nil(t, first[1].Current.UserID)
}

func TestStoreListenerCopiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	store.Subscribe(func(c Change) {
		*c.Current.UserID = "tampered"
	})
	var seen string
	store.Subscribe(func(c Change) { seen = shopagent.Deref(c.Current.UserID) })

	_, err := store.Write(ctx, shopagent.FullPatch(loggedIn("u1", "", false)))
	require.NoError(t, err)
	assert.Equal(t, "u1", seen)

	state, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", shopagent.Deref(state.UserID))
}

func TestStoreUnsubscribe(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	calls := 0
	unsubscribe := store.Subscribe(func(Change) { calls++ })
	assert.Equal(t, 1, store.Listeners())

	_, err := store.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, store.Listeners())

	_, err = store.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestStoreListenerPanicDoesNotBreakFanOut(t *testing.T) {
	store := NewStore(nil)

	store.Subscribe(func(Change) { panic("boom") })
	called := false
	store.Subscribe(func(Change) { called = true })

	_, err := store.Write(context.Background(), shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestStoreRepeatedLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	changes := 0
	store.Subscribe(func(Change) { changes++ })

	first, err := store.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)
	second, err := store.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, 2, changes)
}

func TestStoreConcurrentWritersAreSerialised(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	var mu sync.Mutex
	var versions []uint64
	store.Subscribe(func(c Change) {
		mu.Lock()
		versions = append(versions, c.Current.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Write(ctx, shopagent.SessionPatch{DisplayName: shopagent.SetTo("x")})
		}()
	}
	wg.Wait()

	require.Len(t, versions, 20)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v)
	}
}

type failingBackend struct {
	*MemoryBackend
	err error
}

func (f *failingBackend) Save(context.Context, shopagent.SessionState) error {
	return f.err
}

func TestStoreBackendFailureDoesNotNotify(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), err: errors.New("disk full")}
	store := NewStore(backend)

	calls := 0
	store.Subscribe(func(Change) { calls++ })

	_, err := store.Write(context.Background(), shopagent.FullPatch(shopagent.LoggedOutState()))
	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestStoreReaderHasNoWrite(t *testing.T) {
	store := NewStore(nil)
	reader := store.Reader()

	_, isWriter := reader.(Writer)
	assert.False(t, isWriter)

	state, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusUnknown, state.Status)
}

func TestStoreRecordsActivity(t *testing.T) {
	var events []shopagent.ActivityEvent
	store := NewStore(nil, WithActivitySink(shopagent.ActivitySinkFunc(func(_ context.Context, e shopagent.ActivityEvent) error {
		events = append(events, e)
		return nil
	})))

	_, err := store.Write(context.Background(), shopagent.FullPatch(loggedIn("u1", "", false)))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, shopagent.ActivityEventStateWritten, events[0].EventType)
	assert.Equal(t, "u1", events[0].UserID)
}
