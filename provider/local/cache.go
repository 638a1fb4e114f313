package local

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

const currentSessionKey = "current-session"

// ErrNoCachedSession is returned when no session has been cached.
var ErrNoCachedSession = errors.New("no cached session")

// SessionCache persists the id of the signed in account so a restarted
// background context can restore it.
type SessionCache interface {
	Load() (string, error)
	Store(accountID string) error
	Clear() error
}

// KeyringCache keeps the session in the OS keyring.
type KeyringCache struct {
	Service string
}

// NewKeyringCache creates a cache under service.
func NewKeyringCache(service string) *KeyringCache {
	if service == "" {
		service = "go-shopagent"
	}
	return &KeyringCache{Service: service}
}

func (k *KeyringCache) Load() (string, error) {
	id, err := keyring.Get(k.Service, currentSessionKey)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && id == "") {
		return "", ErrNoCachedSession
	}
	return id, err
}

func (k *KeyringCache) Store(accountID string) error {
	return keyring.Set(k.Service, currentSessionKey, accountID)
}

func (k *KeyringCache) Clear() error {
	err := keyring.Delete(k.Service, currentSessionKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// MemoryCache keeps the session in process.
type MemoryCache struct {
	mu sync.Mutex
	id string
}

func (m *MemoryCache) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return "", ErrNoCachedSession
	}
	return m.id, nil
}

func (m *MemoryCache) Store(accountID string) error {
	m.mu.Lock()
	m.id = accountID
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Clear() error {
	m.mu.Lock()
	m.id = ""
	m.mu.Unlock()
	return nil
}
