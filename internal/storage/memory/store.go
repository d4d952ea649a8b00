// Package memory implements the protocol's persistence collaborators as
// mutex-guarded in-process sets. Used for tests and for running the trust
// anchor without a database. TryConsume holds the write lock across the
// check-and-insert, so it offers the same exactly-once acceptance as the
// unique-constrained SQL insert.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/talatops/zk-snark-voting/internal/protocol"
	"github.com/talatops/zk-snark-voting/internal/zk"
)

// Store holds every protocol set in memory.
type Store struct {
	mu         sync.RWMutex
	identities map[string]struct{}
	nullifiers map[string]struct{}
	actions    []protocol.ActionRecord
	ballot     []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		identities: make(map[string]struct{}),
		nullifiers: make(map[string]struct{}),
	}
}

func ledgerKey(domain zk.Domain, nullifier string) string {
	return string(domain) + "|" + nullifier
}

// AddIdentity stores a commitment, rejecting duplicates.
func (s *Store) AddIdentity(_ context.Context, commitment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[commitment]; exists {
		return protocol.ErrDuplicateIdentity
	}
	s.identities[commitment] = struct{}{}
	return nil
}

// HasIdentity reports whether a commitment is registered.
func (s *Store) HasIdentity(_ context.Context, commitment string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.identities[commitment]
	return exists, nil
}

// TryConsume records a nullifier under its domain exactly once.
func (s *Store) TryConsume(_ context.Context, domain zk.Domain, nullifier string) (bool, error) {
	key := ledgerKey(domain, nullifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.nullifiers[key]; used {
		return false, nil
	}
	s.nullifiers[key] = struct{}{}
	return true, nil
}

// Release removes a consumed nullifier, compensating a failed transition.
func (s *Store) Release(_ context.Context, domain zk.Domain, nullifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nullifiers, ledgerKey(domain, nullifier))
	return nil
}

// IsUsed reports whether a nullifier has been consumed in the given domain.
func (s *Store) IsUsed(_ context.Context, domain zk.Domain, nullifier string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, used := s.nullifiers[ledgerKey(domain, nullifier)]
	return used, nil
}

// RecordAction appends to the action log.
func (s *Store) RecordAction(_ context.Context, rec protocol.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions = append(s.actions, rec)
	return nil
}

// Actions returns a copy of the action log, for tests.
func (s *Store) Actions() []protocol.ActionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.ActionRecord, len(s.actions))
	copy(out, s.actions)
	return out
}

// AddBallotOption adds a candidate; re-adding an existing one is a no-op.
func (s *Store) AddBallotOption(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, opt := range s.ballot {
		if opt == name {
			return nil
		}
	}
	s.ballot = append(s.ballot, name)
	return nil
}

// RemoveBallotOption deletes a candidate.
func (s *Store) RemoveBallotOption(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, opt := range s.ballot {
		if opt == name {
			s.ballot = append(s.ballot[:i], s.ballot[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("ballot option not found: %s", name)
}

// ListBallotOptions returns the ballot in insertion order.
func (s *Store) ListBallotOptions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.ballot))
	copy(out, s.ballot)
	return out, nil
}
