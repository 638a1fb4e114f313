package session

import (
	"context"
	"errors"
	"testing"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicaReadThenSubscribe(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	owner := NewStore(backend)

	_, err := owner.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", false)))
	require.NoError(t, err)

	replica := NewReplica(backend, nil)
	require.NoError(t, replica.Start(ctx))
	defer replica.Stop()

	state, err := replica.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", shopagent.Deref(state.UserID))

	var changes []Change
	replica.Subscribe(func(c Change) { changes = append(changes, c) })

	_, err = owner.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, "u1", shopagent.Deref(changes[0].Previous.UserID))
	assert.Equal(t, shopagent.StatusLoggedOut, changes[0].Current.Status)
}

func TestReplicaDropsStaleRecords(t *testing.T) {
	replica := NewReplica(NewMemoryBackend(), nil)

	var changes []Change
	replica.Subscribe(func(c Change) { changes = append(changes, c) })

	newer := loggedIn("u1", "", false)
	newer.Version = 3
	older := shopagent.LoggedOutState()
	older.Version = 2

	replica.apply(newer)
	replica.apply(older)

	require.Len(t, changes, 1)
	assert.Equal(t, uint64(3), changes[0].Current.Version)
}

func TestReplicaOverRedis(t *testing.T) {
	backend, _ := setupRedisBackend(t)
	ctx := context.Background()

	replica := NewReplica(backend, nil)
	require.NoError(t, replica.Start(ctx))
	defer replica.Stop()

	got := make(chan Change, 1)
	replica.Subscribe(func(c Change) { got <- c })

	owner := NewStore(backend)
	_, err := owner.Write(ctx, shopagent.FullPatch(loggedIn("u9", "z@example.com", true)))
	require.NoError(t, err)

	select {
	case c := <-got:
		assert.True(t, c.Current.IsVerified())
		assert.Equal(t, "u9", shopagent.Deref(c.Current.UserID))
	case <-time.After(2 * time.Second):
		t.Fatal("replica did not observe the write")
	}
}

// loadHookBackend runs hook when Load is called and can fail the load.
type loadHookBackend struct {
	*MemoryBackend
	hook    func()
	loadErr error
}

func (b *loadHookBackend) Load(ctx context.Context) (shopagent.SessionState, bool, error) {
	state, ok, err := b.MemoryBackend.Load(ctx)
	if b.hook != nil {
		b.hook()
	}
	if b.loadErr != nil {
		return shopagent.SessionState{}, false, b.loadErr
	}
	return state, ok, err
}

func TestReplicaStartKeepsChangeCommittedDuringLoad(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryBackend()
	owner := NewStore(memory)
	_, err := owner.Write(ctx, shopagent.FullPatch(shopagent.LoggedOutState()))
	require.NoError(t, err)

	backend := &loadHookBackend{MemoryBackend: memory}
	backend.hook = func() {
		backend.hook = nil
		_, err := owner.Write(ctx, shopagent.FullPatch(loggedIn("u1", "a@example.com", true)))
		assert.NoError(t, err)
	}

	replica := NewReplica(backend, nil)
	var changes []Change
	replica.Subscribe(func(c Change) { changes = append(changes, c) })
	require.NoError(t, replica.Start(ctx))
	defer replica.Stop()

	require.Len(t, changes, 1)
	assert.Equal(t, uint64(2), changes[0].Current.Version)
	assert.Equal(t, uint64(2), replica.last.Version)
}

func TestReplicaStartWatchesDespiteLoadFailure(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryBackend()
	backend := &loadHookBackend{MemoryBackend: memory, loadErr: errors.New("storage unavailable")}

	replica := NewReplica(backend, nil)
	var changes []Change
	replica.Subscribe(func(c Change) { changes = append(changes, c) })
	require.NoError(t, replica.Start(ctx))
	defer replica.Stop()

	_, err := NewStore(memory).Write(ctx, shopagent.FullPatch(loggedIn("u1", "", false)))
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, "u1", shopagent.Deref(changes[0].Current.UserID))
}
