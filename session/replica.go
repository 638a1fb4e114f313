package session

import (
	"context"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
)

// Replica is a Reader for a context living in another process. Reads go to
// the shared backend and changes arrive through the backend watch.
type Replica struct {
	source   Watcher
	observer *observer
	logger   shopagent.Logger

	startMu sync.Mutex

	mu   sync.Mutex
	last shopagent.SessionState
	stop func()
}

// NewReplica creates a replica over source. Call Start to begin watching.
func NewReplica(source Watcher, logger shopagent.Logger) *Replica {
	_, logger = shopagent.ResolveLogger("shopagent.session.replica", nil, logger)
	return &Replica{
		source:   source,
		observer: newObserver(logger),
		logger:   logger,
		last:     shopagent.DefaultSessionState(),
	}
}

// Start subscribes to the backend and then loads the current record, so a
// change committed in between is never lost. It returns once changes are
// flowing. A failed load is logged and the watch still starts.
func (r *Replica) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	running := r.stop != nil
	r.mu.Unlock()
	if running {
		return nil
	}

	stop, err := r.source.Watch(ctx, r.apply)
	if err != nil {
		return err
	}

	current, ok, err := r.source.Load(ctx)
	switch {
	case err != nil:
		r.logger.Warn("replica initial load failed", "error", err)
	case ok:
		r.adopt(current)
	}

	r.mu.Lock()
	r.stop = stop
	r.mu.Unlock()
	return nil
}

// Stop ends the watch.
func (r *Replica) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Read implements Reader.
func (r *Replica) Read(ctx context.Context) (shopagent.SessionState, error) {
	state, ok, err := r.source.Load(ctx)
	if err != nil {
		return shopagent.SessionState{}, err
	}
	if !ok {
		return shopagent.DefaultSessionState(), nil
	}
	return state, nil
}

// Subscribe implements Reader.
func (r *Replica) Subscribe(listener Listener) func() {
	return r.observer.subscribe(listener)
}

func (r *Replica) apply(state shopagent.SessionState) {
	r.mu.Lock()
	previous := r.last
	if state.Version != 0 && state.Version <= previous.Version {
		r.mu.Unlock()
		r.logger.Debug("replica dropped stale record", "version", state.Version, "current", previous.Version)
		return
	}
	r.last = state
	r.mu.Unlock()

	r.observer.publish(Change{Previous: previous, Current: state})
}

// adopt takes the loaded record as the baseline unless a newer one already
// arrived through the watch.
func (r *Replica) adopt(state shopagent.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state.Version >= r.last.Version {
		r.last = state
	}
}
