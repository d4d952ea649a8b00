package session

import (
	"context"
	"sync"
	"time"

	"github.com/talatops/zk-snark-voting/internal/protocol"
)

type memoryEntry struct {
	sess      protocol.Session
	expiresAt time.Time
}

// MemoryStore is the single-instance session store. A janitor goroutine
// evicts expired entries once a minute; Get also checks expiry directly so
// eviction lag is never observable.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]memoryEntry),
		stop:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for token, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Create stores a session under token with the given TTL.
func (s *MemoryStore) Create(_ context.Context, token string, sess protocol.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[token] = memoryEntry{sess: sess, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get looks a session up, treating expired entries as absent.
func (s *MemoryStore) Get(_ context.Context, token string) (protocol.Session, bool, error) {
	s.mu.RLock()
	entry, found := s.sessions[token]
	s.mu.RUnlock()

	if !found || time.Now().After(entry.expiresAt) {
		return protocol.Session{}, false, nil
	}
	return entry.sess, true, nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
