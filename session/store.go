package session

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	shopagent "github.com/goliatone/go-shopagent"
)

// Store is the owned session record. Writes are serialised and observers
// see every committed record in order, before Write returns.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	observer *observer
	now      func() time.Time
	sink     shopagent.ActivitySink
	logger   shopagent.Logger
	provider shopagent.LoggerProvider
}

// StoreOption customizes store construction.
type StoreOption func(*Store)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithActivitySink publishes a state written event for each commit.
func WithActivitySink(sink shopagent.ActivitySink) StoreOption {
	return func(s *Store) {
		s.sink = shopagent.NormalizeActivitySink(sink)
	}
}

// WithLogger overrides the store logger.
func WithLogger(logger shopagent.Logger) StoreOption {
	return func(s *Store) {
		s.provider, s.logger = shopagent.ResolveLogger("shopagent.session", s.provider, logger)
	}
}

// WithLoggerProvider resolves the store logger from provider.
func WithLoggerProvider(provider shopagent.LoggerProvider) StoreOption {
	return func(s *Store) {
		s.provider, s.logger = shopagent.ResolveLogger("shopagent.session", provider, s.logger)
	}
}

// NewStore wraps backend. A nil backend means an in memory one.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}

	provider, logger := shopagent.ResolveLogger("shopagent.session", nil, nil)
	s := &Store{
		backend:  backend,
		now:      time.Now,
		sink:     shopagent.NormalizeActivitySink(nil),
		logger:   logger,
		provider: provider,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.observer = newObserver(s.logger)
	return s
}

// Read returns the committed record, or the default record when the backend
// is empty.
func (s *Store) Read(ctx context.Context) (shopagent.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Write merges patch into the record and notifies every listener with the
// resulting full record. Logged out records never keep identity fields and
// a logged in record without a user id is rejected.
func (s *Store) Write(ctx context.Context, patch shopagent.SessionPatch) (shopagent.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return shopagent.SessionState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.load(ctx)
	if err != nil {
		return shopagent.SessionState{}, err
	}

	next := patch.Apply(previous).Normalize()
	if err := next.Validate(); err != nil {
		s.logger.Warn("session write rejected", "error", err, "fields", patch.Fields())
		return previous, err
	}

	next.Version = previous.Version + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.backend.Save(ctx, next); err != nil {
		return previous, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist session state")
	}

	change := Change{Previous: previous, Current: next, Fields: patch.Fields()}
	s.observer.publish(change)

	s.logger.Debug("session state written",
		"version", next.Version,
		"status", next.Status.String(),
		"fields", change.Fields,
	)

	shopagent.RecordActivity(ctx, s.sink, s.logger, shopagent.ActivityEvent{
		EventType: shopagent.ActivityEventStateWritten,
		UserID:    shopagent.Deref(next.UserID),
		Metadata: map[string]any{
			"version": next.Version,
			"status":  next.Status.String(),
			"fields":  change.Fields,
		},
	})

	return next.Clone(), nil
}

// Subscribe registers listener for every subsequent commit.
func (s *Store) Subscribe(listener Listener) func() {
	return s.observer.subscribe(listener)
}

// Listeners returns the number of active subscriptions.
func (s *Store) Listeners() int {
	return s.observer.len()
}

// Reader returns a view of the store without write access.
func (s *Store) Reader() Reader {
	return readOnly{store: s}
}

func (s *Store) load(ctx context.Context) (shopagent.SessionState, error) {
	state, ok, err := s.backend.Load(ctx)
	if err != nil {
		return shopagent.SessionState{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session state")
	}
	if !ok {
		return shopagent.DefaultSessionState(), nil
	}
	return state.Clone(), nil
}

type readOnly struct {
	store *Store
}

func (r readOnly) Read(ctx context.Context) (shopagent.SessionState, error) {
	return r.store.Read(ctx)
}

func (r readOnly) Subscribe(listener Listener) func() {
	return r.store.Subscribe(listener)
}
