package lock

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend is a process-local Backend for single-instance deployments and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryBackend creates an in-process lock backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		cache: cache.New(DefaultTTL, 2*DefaultTTL),
	}
}

// Ready always reports true.
func (m *MemoryBackend) Ready() bool {
	return true
}

// SetNX stores value unless an unexpired key exists.
func (m *MemoryBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cache.Add(key, value, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// CompareAndDelete removes key while it is unexpired and holds value.
func (m *MemoryBackend) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.cache.Get(key)
	if !ok {
		return false, nil
	}
	if b, _ := current.([]byte); !bytes.Equal(b, value) {
		return false, nil
	}
	m.cache.Delete(key)
	return true, nil
}
