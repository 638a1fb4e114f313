package session

import (
	"context"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
)

// MemoryBackend keeps the record in process. It also implements Watcher so
// replicas can be exercised without an external broker.
type MemoryBackend struct {
	mu       sync.RWMutex
	state    shopagent.SessionState
	stored   bool
	watchers *observer
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{watchers: newObserver(nil)}
}

// Load implements Backend.
func (m *MemoryBackend) Load(_ context.Context) (shopagent.SessionState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), m.stored, nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(_ context.Context, state shopagent.SessionState) error {
	m.mu.Lock()
	m.state = state.Clone()
	m.stored = true
	m.mu.Unlock()

	m.watchers.publish(Change{Current: state})
	return nil
}

// Watch implements Watcher.
func (m *MemoryBackend) Watch(ctx context.Context, fn func(shopagent.SessionState)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.watchers.subscribe(func(c Change) { fn(c.Current) }), nil
}
