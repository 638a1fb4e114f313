// Package capture stores the product pages reported by content contexts.
package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/hashid/pkg/hashid"
)

// KeyPrefix prefixes every stored capture key.
const KeyPrefix = "product:"

// Record is a stored product capture.
type Record struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Recorder persists captured product info and returns its key.
type Recorder interface {
	Record(ctx context.Context, info shopagent.ProductInfo) (string, error)
	Get(ctx context.Context, key string) (Record, bool, error)
}

// Key derives the stable storage key of a product URL.
func Key(url string) (string, error) {
	id, err := hashid.NewUUID(strings.TrimSpace(url))
	if err != nil {
		return "", err
	}
	return KeyPrefix + id.String(), nil
}

func validate(info shopagent.ProductInfo) error {
	fields := map[string]any{}
	if strings.TrimSpace(info.Name) == "" {
		fields["name"] = "required"
	}
	if strings.TrimSpace(info.URL) == "" {
		fields["url"] = "required"
	}
	if len(fields) > 0 {
		return shopagent.ValidationError("product name and url are required", fields)
	}
	return nil
}

// MemoryRecorder keeps captures in process.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: map[string]Record{}, now: time.Now}
}

func (m *MemoryRecorder) Record(ctx context.Context, info shopagent.ProductInfo) (string, error) {
	if err := validate(info); err != nil {
		return "", err
	}
	key, err := Key(info.URL)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.records[key] = Record{
		Key:        key,
		Name:       strings.TrimSpace(info.Name),
		URL:        strings.TrimSpace(info.URL),
		CapturedAt: m.now().UTC(),
	}
	m.mu.Unlock()
	return key, nil
}

func (m *MemoryRecorder) Get(ctx context.Context, key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

// Len returns the number of stored captures.
func (m *MemoryRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
