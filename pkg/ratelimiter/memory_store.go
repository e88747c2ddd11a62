package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	cleanupInterval time.Duration
	staleAfter      time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often stale buckets are dropped.
// Zero disables the cleanup goroutine.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.cleanupInterval = interval
	}
}

// WithStoreClock overrides the time source.
func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		buckets:         make(map[string]*bucket),
		now:             time.Now,
		cleanupInterval: 5 * time.Minute,
		staleAfter:      time.Hour,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ms)
	}

	if ms.cleanupInterval > 0 {
		go ms.cleanup()
	}

	return ms
}

// ConsumeTokens implements Store.
func (ms *MemoryStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	b, exists := ms.buckets[key]
	if !exists {
		b = &bucket{tokens: config.Capacity, lastRefill: now}
		ms.buckets[key] = b
	}

	b.tokens, b.lastRefill = refill(b.tokens, b.lastRefill, now, config)
	b.tokens -= tokens
	b.lastAccess = now

	return b.tokens, b.lastRefill.Add(config.RefillInterval), nil
}

// Reset implements Store.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.buckets, key)
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (ms *MemoryStore) Close() error {
	ms.closeOnce.Do(func() { close(ms.stopCleanup) })
	return nil
}

func (ms *MemoryStore) cleanup() {
	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.removeStale()
		case <-ms.stopCleanup:
			return
		}
	}
}

func (ms *MemoryStore) removeStale() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for key, b := range ms.buckets {
		if now.Sub(b.lastAccess) > ms.staleAfter {
			delete(ms.buckets, key)
		}
	}
}
