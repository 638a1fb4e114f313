// Package session holds the shared SessionState record. The background
// context owns a *Store and is the only writer; every other context gets a
// Reader and observes changes through Subscribe.
package session

import (
	"context"

	shopagent "github.com/goliatone/go-shopagent"
)

// Change is delivered to every listener after a committed write. Previous
// and Current are full records, never partial.
type Change struct {
	Previous shopagent.SessionState
	Current  shopagent.SessionState
	Fields   []string
}

// Listener receives changes synchronously, in commit order. A listener must
// not write to the store it is subscribed to.
type Listener func(Change)

// Reader is the read only view handed to non owning contexts.
type Reader interface {
	Read(ctx context.Context) (shopagent.SessionState, error)
	Subscribe(listener Listener) (unsubscribe func())
}

// Writer is implemented by the owning store only.
type Writer interface {
	Write(ctx context.Context, patch shopagent.SessionPatch) (shopagent.SessionState, error)
}

// Backend persists the record. Load reports false when nothing was stored.
type Backend interface {
	Load(ctx context.Context) (shopagent.SessionState, bool, error)
	Save(ctx context.Context, state shopagent.SessionState) error
}

// Watcher is a Backend that can push records saved by other processes.
// Watch returns once the subscription is active.
type Watcher interface {
	Backend
	Watch(ctx context.Context, fn func(shopagent.SessionState)) (stop func(), err error)
}

// DefaultNamespace is used when no install key is configured.
const DefaultNamespace = "default"
