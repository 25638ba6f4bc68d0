package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/dinescout/internal/metrics"
)

// MemoryTier is the process-local tier. Entries expire lazily on read and are evicted
// in insertion order once the entry cap is reached.
type MemoryTier[T any] struct {
	mu sync.Mutex

	data  map[string]*memoryEntry[T]
	order *list.List // keys, oldest insertion at the front

	maxEntries int
	maxTTL     time.Duration
	emptyTTL   time.Duration
	now        func() time.Time
	logger     *slog.Logger

	// Statistics
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type memoryEntry[T any] struct {
	value     T
	storedAt  time.Time
	expiresAt time.Time
	elem      *list.Element
}

// NewMemoryTier creates a memory tier using the entry cap and TTL bounds from cfg.
func NewMemoryTier[T any](cfg Config, logger *slog.Logger) *MemoryTier[T] {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryTier[T]{
		data:       make(map[string]*memoryEntry[T]),
		order:      list.New(),
		maxEntries: cfg.Tier1MaxEntries,
		maxTTL:     cfg.Tier1MaxTTL,
		emptyTTL:   cfg.Tier1EmptyTTL,
		now:        time.Now,
		logger:     logger,
	}
}

// Check looks key up. Entries past their expiry, or older than baseTTL, are deleted and
// reported as a miss. Check never panics.
func (m *MemoryTier[T]) Check(key string, baseTTL time.Duration) (result TierResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("tier1 lookup failed", "key", key, "panic", r)
			result = Miss[T]()
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok {
		m.misses.Add(1)
		return Miss[T]()
	}

	now := m.now()
	age := now.Sub(entry.storedAt)
	if !now.Before(entry.expiresAt) || age >= NormalizeTTL(baseTTL) {
		m.removeLocked(key, entry)
		m.misses.Add(1)
		return Miss[T]()
	}

	m.hits.Add(1)
	return Hit(entry.value, age, entry.expiresAt.Sub(now))
}

// Set stores value under key with the memory TTL policy: empty results live for the
// short empty TTL, everything else for min(baseTTL, max TTL).
func (m *MemoryTier[T]) Set(key string, value T, baseTTL time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CacheWriteErrors.WithLabelValues("tier1").Inc()
			m.logger.Warn("tier1 write failed", "key", key, "panic", r)
		}
	}()

	ttl := tier1TTL(IsEmpty(value), baseTTL, m.maxTTL, m.emptyTTL)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.data[key]; ok {
		// Overwrites keep the original insertion position.
		entry.value = value
		entry.storedAt = now
		entry.expiresAt = now.Add(ttl)
		return
	}

	for len(m.data) >= m.maxEntries {
		oldest := m.order.Front()
		if oldest == nil {
			break
		}
		oldestKey, _ := oldest.Value.(string)
		m.removeLocked(oldestKey, m.data[oldestKey])
		m.evictions.Add(1)
		metrics.CacheEvictions.Inc()
	}

	m.data[key] = &memoryEntry[T]{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
		elem:      m.order.PushBack(key),
	}
}

func (m *MemoryTier[T]) removeLocked(key string, entry *memoryEntry[T]) {
	if entry != nil && entry.elem != nil {
		m.order.Remove(entry.elem)
	}
	delete(m.data, key)
}

// Delete removes key.
func (m *MemoryTier[T]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key, m.data[key])
}

// Len returns the number of entries, expired ones included until they are read.
func (m *MemoryTier[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Contains reports whether key is stored, ignoring expiry.
func (m *MemoryTier[T]) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// Flush removes all entries.
func (m *MemoryTier[T]) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*memoryEntry[T])
	m.order.Init()
}

// Evictions returns the number of FIFO evictions so far.
func (m *MemoryTier[T]) Evictions() int64 {
	return m.evictions.Load()
}
