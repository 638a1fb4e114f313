// Package gatewaytest provides test doubles for the gateway package.
package gatewaytest

import (
	"context"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements gateway.IdentityProvider with testify mocks.
// OnAuthStateChanged is not mocked; Emit drives registered listeners.
type MockProvider struct {
	mock.Mock

	mu        sync.Mutex
	next      int
	listeners map[int]gateway.AuthStateListener
}

var _ gateway.IdentityProvider = (*MockProvider)(nil)

func identity(args mock.Arguments, i int) *shopagent.Identity {
	if v := args.Get(i); v != nil {
		return v.(*shopagent.Identity)
	}
	return nil
}

func (m *MockProvider) SignInWithPassword(ctx context.Context, email, password string) (*shopagent.Identity, error) {
	args := m.Called(ctx, email, password)
	return identity(args, 0), args.Error(1)
}

func (m *MockProvider) SignInWithCredential(ctx context.Context, credential gateway.Credential) (*shopagent.Identity, error) {
	args := m.Called(ctx, credential)
	return identity(args, 0), args.Error(1)
}

func (m *MockProvider) CreateUser(ctx context.Context, email, password string) (*shopagent.Identity, error) {
	args := m.Called(ctx, email, password)
	return identity(args, 0), args.Error(1)
}

func (m *MockProvider) UpdateProfile(ctx context.Context, displayName string) error {
	args := m.Called(ctx, displayName)
	return args.Error(0)
}

func (m *MockProvider) SendEmailVerification(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) FetchSignInMethods(ctx context.Context, email string) ([]string, error) {
	args := m.Called(ctx, email)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) CurrentUser(ctx context.Context) (*shopagent.Identity, error) {
	args := m.Called(ctx)
	return identity(args, 0), args.Error(1)
}

func (m *MockProvider) OnAuthStateChanged(listener gateway.AuthStateListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = map[int]gateway.AuthStateListener{}
	}
	id := m.next
	m.next++
	m.listeners[id] = listener
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Emit calls every auth state listener with identity.
func (m *MockProvider) Emit(identity *shopagent.Identity) {
	m.mu.Lock()
	listeners := make([]gateway.AuthStateListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(identity)
	}
}

// Listeners returns the number of registered auth state listeners.
func (m *MockProvider) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}
