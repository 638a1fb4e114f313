//go:build js && wasm
// +build js,wasm

package chromeext

import (
	"context"
	"encoding/json"
	"sync"
	"syscall/js"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/session"
)

// DefaultStorageKey is where the session record lives in chrome.storage.
const DefaultStorageKey = "session"

// StorageBackend persists the session record in chrome.storage.local as a
// JSON string.
type StorageBackend struct {
	key string
}

var _ session.Watcher = (*StorageBackend)(nil)

// NewStorageBackend creates a backend for key, DefaultStorageKey when empty.
func NewStorageBackend(key string) *StorageBackend {
	if key == "" {
		key = DefaultStorageKey
	}
	return &StorageBackend{key: key}
}

// Load implements session.Backend.
func (b *StorageBackend) Load(ctx context.Context) (shopagent.SessionState, bool, error) {
	items, err := invoke(ctx, chromeAPI("storage", "local"), "get", b.key)
	if err != nil {
		return shopagent.SessionState{}, false, err
	}
	value := items.Get(b.key)
	if value.Type() != js.TypeString {
		return shopagent.SessionState{}, false, nil
	}
	state, err := decodeState(value.String())
	if err != nil {
		return shopagent.SessionState{}, false, err
	}
	return state, true, nil
}

// Save implements session.Backend.
func (b *StorageBackend) Save(ctx context.Context, state shopagent.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = invoke(ctx, chromeAPI("storage", "local"), "set", map[string]interface{}{
		b.key: string(raw),
	})
	return err
}

// Watch implements session.Watcher through chrome.storage.onChanged.
func (b *StorageBackend) Watch(ctx context.Context, fn func(shopagent.SessionState)) (func(), error) {
	listener := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 2 || args[1].String() != "local" {
			return nil
		}
		change := args[0].Get(b.key)
		if change.IsUndefined() {
			return nil
		}
		next := change.Get("newValue")
		if next.Type() != js.TypeString {
			return nil
		}
		state, err := decodeState(next.String())
		if err != nil {
			return nil
		}
		go fn(state)
		return nil
	})

	onChanged := chromeAPI("storage", "onChanged")
	onChanged.Call("addListener", listener)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			onChanged.Call("removeListener", listener)
			listener.Release()
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

func decodeState(raw string) (shopagent.SessionState, error) {
	var state shopagent.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return shopagent.SessionState{}, err
	}
	return state.Normalize(), nil
}
