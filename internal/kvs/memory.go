package kvs

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation. Suitable for a single
// gateway instance; multi-instance deployments share state via MongoStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type memoryEntry struct {
	value     string
	counter   int64
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store with background expiry sweeping.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]*memoryEntry),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Incr atomically increments the counter at key, setting ttl on first write.
func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(ttl)}
		s.entries[key] = entry
	}
	entry.counter++
	return entry.counter, nil
}

// SetNX inserts key=value iff absent. An expired entry counts as absent.
func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	s.entries[key] = &memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// Get returns the value at key and whether it exists.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		return "", false, nil
	}
	if entry.value != "" {
		return entry.value, true, nil
	}
	return strconv.FormatInt(entry.counter, 10), true, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
