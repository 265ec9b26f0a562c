package mcp

import (
	"context"
	"sync"
	"time"
)

// SessionStore persists session scoped state. Every value is addressed by session id and key, and
// expires after the ttl given to Set (zero means never). Writers to the same key race, the last one
// wins.
//
// Implementations must be safe for concurrent use. Besides MemoryStore, the store/sqlitestore and
// store/redisstore packages provide backends that several engine processes can share.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, bool, error)
	Set(ctx context.Context, sessionID, key string, value []byte, ttl time.Duration) error
	Has(ctx context.Context, sessionID, key string) (bool, error)
	Forget(ctx context.Context, sessionID, key string) error
}

// MemoryStore is an in-process SessionStore. Expired entries are hidden immediately and swept
// by a background goroutine, which Close stops.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[storeKey]storeEntry
	done    chan struct{}
	closed  bool
}

type storeKey struct {
	sessionID string
	key       string
}

type storeEntry struct {
	value     []byte
	expiresAt time.Time
}

const memoryStoreSweepInterval = time.Minute

// NewMemoryStore creates an empty store and starts its sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[storeKey]storeEntry),
		done:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Get implements SessionStore.
func (s *MemoryStore) Get(_ context.Context, sessionID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[storeKey{sessionID, key}]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set implements SessionStore.
func (s *MemoryStore) Set(_ context.Context, sessionID, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := storeEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[storeKey{sessionID, key}] = e
	return nil
}

// Has implements SessionStore.
func (s *MemoryStore) Has(ctx context.Context, sessionID, key string) (bool, error) {
	_, ok, err := s.Get(ctx, sessionID, key)
	return ok, err
}

// Forget implements SessionStore.
func (s *MemoryStore) Forget(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, storeKey{sessionID, key})
	return nil
}

// Len returns the number of entries, expired or not, currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the sweeper. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
	return nil
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(memoryStoreSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

func (e storeEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
